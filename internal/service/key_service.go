package service

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"

	"satshunt/internal/core/domain"
	"satshunt/pkg/apperror"

	"github.com/aead/cmac"
	"github.com/google/uuid"
)

// keyDerivationLabel domain-separates card keys from any other use of the
// master secret. Bump the suffix if the derivation scheme ever changes.
const keyDerivationLabel = "satshunt-card-key-v1"

// CMACKeyService implements ports.KeyService with an AES-CMAC KDF.
// Per-card keys are a pure function of (master secret, card ID, version),
// so the database never holds key material.
type CMACKeyService struct {
	block cipher.Block
}

// NewCMACKeyService creates a key service from the hex master secret.
// The secret must be 16 bytes; a bad secret is a startup failure.
func NewCMACKeyService(masterSecretHex string) (*CMACKeyService, error) {
	secret, err := hex.DecodeString(masterSecretHex)
	if err != nil {
		return nil, apperror.ErrKeyDerivation(fmt.Errorf("master secret is not valid hex: %w", err))
	}
	if len(secret) != aes.BlockSize {
		return nil, apperror.ErrKeyDerivation(fmt.Errorf("master secret must be %d bytes, got %d", aes.BlockSize, len(secret)))
	}
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, apperror.ErrKeyDerivation(err)
	}
	return &CMACKeyService{block: block}, nil
}

// DeriveKeys derives the five-slot NTAG424 key set for one card.
func (s *CMACKeyService) DeriveKeys(cardID uuid.UUID, version int) (*domain.CardKeys, error) {
	if version < 0 || version > 0xFF {
		return nil, apperror.ErrKeyDerivation(fmt.Errorf("key version %d out of range", version))
	}

	keys := make([][]byte, 5)
	for slot := range keys {
		k, err := s.deriveOne(cardID, version, slot)
		if err != nil {
			return nil, apperror.ErrKeyDerivation(err)
		}
		keys[slot] = k
	}

	return &domain.CardKeys{
		K0: keys[0],
		K1: keys[1],
		K2: keys[2],
		K3: keys[3],
		K4: keys[4],
	}, nil
}

func (s *CMACKeyService) deriveOne(cardID uuid.UUID, version, slot int) ([]byte, error) {
	msg := make([]byte, 0, len(keyDerivationLabel)+len(cardID)+2)
	msg = append(msg, keyDerivationLabel...)
	msg = append(msg, cardID[:]...)
	msg = append(msg, byte(version), byte(slot))

	k, err := cmac.Sum(msg, s.block, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("derive slot %d: %w", slot, err)
	}
	return k, nil
}
