package domain

import (
	"time"

	"github.com/google/uuid"
)

// DonationStatus represents the lifecycle state of a donation invoice.
type DonationStatus string

const (
	DonationStatusCreated  DonationStatus = "CREATED"
	DonationStatusReceived DonationStatus = "RECEIVED"
	DonationStatusTimedOut DonationStatus = "TIMED_OUT"
)

// Donation is an invoice offered to a donor. The pool is credited only
// when the invoice settles, via PoolCredit rows. A nil LocationID targets
// the shared global pool: on settlement the amount is split evenly across
// all active locations, remainder to the oldest.
type Donation struct {
	ID          uuid.UUID      `json:"id"`
	LocationID  *uuid.UUID     `json:"location_id,omitempty"`
	AmountMsat  int64          `json:"amount_msat"`
	Invoice     string         `json:"invoice"`
	PaymentHash string         `json:"payment_hash"`
	DonorName   *string        `json:"donor_name,omitempty"`
	Comment     *string        `json:"comment,omitempty"`
	Status      DonationStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	ReceivedAt  *time.Time     `json:"received_at,omitempty"`
}

// IsTerminal returns true if the donation reached a final state.
func (d *Donation) IsTerminal() bool {
	return d.Status == DonationStatusReceived || d.Status == DonationStatusTimedOut
}

// CreditSource identifies where a pool credit came from.
type CreditSource string

const (
	CreditSourceDonation CreditSource = "DONATION"
	CreditSourceManual   CreditSource = "MANUAL"
)

// PoolCredit is an immutable credit to a location pool. The pool balance
// is the sum of credits minus the sum of claims.
type PoolCredit struct {
	ID         uuid.UUID    `json:"id"`
	LocationID uuid.UUID    `json:"location_id"`
	AmountMsat int64        `json:"amount_msat"`
	Source     CreditSource `json:"source"`
	DonationID *uuid.UUID   `json:"donation_id,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}
