package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/aead/cmac"
)

// NTAG424 DNA SUN message constants.
const (
	sunUIDLen     = 7
	sunCounterLen = 3
	// piccTag prefixes every well-formed decrypted SUN payload.
	piccTag = 0xC7
)

// sv2Prefix is the fixed session-vector header for SUN MAC derivation,
// per NXP AN12196.
var sv2Prefix = []byte{0x3C, 0xC3, 0x00, 0x01, 0x00, 0x80}

// sunPayload is the decrypted content of one tap.
type sunPayload struct {
	UID     [sunUIDLen]byte
	Counter uint32
}

// decryptSunMessage decrypts the PICC data with K1 (AES-128-CBC, zero IV)
// and extracts the UID and tap counter.
func decryptSunMessage(k1, encrypted []byte) (*sunPayload, error) {
	if len(k1) != aes.BlockSize {
		return nil, fmt.Errorf("k1 must be %d bytes, got %d", aes.BlockSize, len(k1))
	}
	if len(encrypted) < aes.BlockSize || len(encrypted)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("encrypted PICC data must be a positive multiple of %d bytes, got %d", aes.BlockSize, len(encrypted))
	}

	block, err := aes.NewCipher(k1)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	decrypted := make([]byte, len(encrypted))
	iv := make([]byte, aes.BlockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(decrypted, encrypted)

	if len(decrypted) < 1+sunUIDLen+sunCounterLen {
		return nil, fmt.Errorf("decrypted PICC data too short: %d bytes", len(decrypted))
	}
	if decrypted[0] != piccTag {
		return nil, fmt.Errorf("unexpected PICC tag byte 0x%02X", decrypted[0])
	}

	var p sunPayload
	copy(p.UID[:], decrypted[1:1+sunUIDLen])

	// Counter is 3 bytes little-endian.
	var ctr [4]byte
	copy(ctr[:], decrypted[1+sunUIDLen:1+sunUIDLen+sunCounterLen])
	p.Counter = binary.LittleEndian.Uint32(ctr[:])

	return &p, nil
}

// computeSunMAC derives the per-tap session key from K2 and returns the
// 8-byte truncated MAC wallets send alongside the PICC data.
func computeSunMAC(k2 []byte, p *sunPayload) ([]byte, error) {
	if len(k2) != aes.BlockSize {
		return nil, fmt.Errorf("k2 must be %d bytes, got %d", aes.BlockSize, len(k2))
	}

	sv2 := make([]byte, aes.BlockSize)
	n := copy(sv2, sv2Prefix)
	n += copy(sv2[n:], p.UID[:])
	var ctr [4]byte
	binary.LittleEndian.PutUint32(ctr[:], p.Counter)
	copy(sv2[n:], ctr[:sunCounterLen])

	block, err := aes.NewCipher(k2)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	sessionKey, err := cmac.Sum(sv2, block, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}

	sessionBlock, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("init session cipher: %w", err)
	}
	full, err := cmac.Sum(nil, sessionBlock, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("compute mac: %w", err)
	}

	// Truncation keeps the odd-indexed bytes of the full MAC.
	mac := make([]byte, 8)
	for i := range mac {
		mac[i] = full[2*i+1]
	}
	return mac, nil
}

// verifySunMAC reports whether the presented MAC matches, in constant time.
func verifySunMAC(k2 []byte, p *sunPayload, presented []byte) (bool, error) {
	expected, err := computeSunMAC(k2, p)
	if err != nil {
		return false, err
	}
	if len(presented) != len(expected) {
		return false, nil
	}
	return subtle.ConstantTimeCompare(expected, presented) == 1, nil
}
