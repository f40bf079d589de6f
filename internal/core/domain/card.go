package domain

import (
	"time"

	"github.com/google/uuid"
)

// CardStatus represents the provisioning state of an NFC card.
type CardStatus string

const (
	// CardStatusCreated means the row exists but keys were never written.
	CardStatusCreated CardStatus = "CREATED"
	// CardStatusProgrammed means keys were fetched by the programming app.
	CardStatusProgrammed CardStatus = "PROGRAMMED"
	// CardStatusActive means the card produced at least one verified tap.
	CardStatusActive CardStatus = "ACTIVE"
	CardStatusDisabled CardStatus = "DISABLED"
)

// NfcCard represents a physical NTAG424 card bound to a location.
// No key material lives on this row: keys are re-derived from the master
// secret, the card ID and the key version on every verification.
type NfcCard struct {
	ID          uuid.UUID  `json:"id"`
	LocationID  uuid.UUID  `json:"location_id"`
	UID         *string    `json:"uid,omitempty"` // 7-byte UID hex, known after first tap or programming
	KeyVersion  int        `json:"key_version"`
	Counter     int64      `json:"counter"` // Highest accepted tap counter
	Status      CardStatus `json:"status"`
	WriteToken  *string    `json:"-"` // One-shot token the programming app presents
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// CanVerify returns true if taps from this card may be accepted.
func (c *NfcCard) CanVerify() bool {
	return c.Status == CardStatusProgrammed || c.Status == CardStatusActive
}

// CardKeys holds the derived key set handed to the programming app.
// It exists only in memory for the duration of one programming request.
type CardKeys struct {
	K0 []byte // Application master key
	K1 []byte // Encryption key (SUN message)
	K2 []byte // Authentication key (CMAC)
	K3 []byte
	K4 []byte
}

// Scan records one accepted tap. Rejected taps are never recorded here;
// replay protection lives on NfcCard.Counter. ClaimID is set when the
// tap's withdrawal commits, so every paid-out claim traces back to the
// physical tap that earned it.
type Scan struct {
	ID         uuid.UUID  `json:"id"`
	CardID     uuid.UUID  `json:"card_id"`
	LocationID uuid.UUID  `json:"location_id"`
	ClaimantID uuid.UUID  `json:"claimant_id"`
	ClaimID    *uuid.UUID `json:"claim_id,omitempty"`
	Counter    int64      `json:"counter"`
	CreatedAt  time.Time  `json:"created_at"`
}
