package domain

import (
	"time"

	"github.com/google/uuid"
)

// WithdrawalStatus represents the lifecycle state of a pending withdrawal.
type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "PENDING"
	WithdrawalStatusCompleted WithdrawalStatus = "COMPLETED"
	WithdrawalStatusFailed    WithdrawalStatus = "FAILED"
)

// PendingWithdrawal is a reservation against a location pool. While
// PENDING its amount counts against the available balance; COMPLETED
// converts it into a claim, FAILED releases the funds.
type PendingWithdrawal struct {
	ID          uuid.UUID        `json:"id"`
	LocationID  uuid.UUID        `json:"location_id"`
	ClaimantID  uuid.UUID        `json:"claimant_id"` // Card or user that initiated the withdrawal
	ScanID      *uuid.UUID       `json:"scan_id,omitempty"`
	Invoice     string           `json:"invoice"`
	AmountMsat  int64            `json:"amount_msat"`
	Status      WithdrawalStatus `json:"status"`
	PaymentHash *string          `json:"payment_hash,omitempty"`
	FailReason  *string          `json:"fail_reason,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
}

// IsTerminal returns true if the withdrawal reached a final state.
func (w *PendingWithdrawal) IsTerminal() bool {
	return w.Status == WithdrawalStatusCompleted || w.Status == WithdrawalStatusFailed
}

// Claim is an immutable debit against a location pool, written exactly
// once when a withdrawal commits.
type Claim struct {
	ID           uuid.UUID `json:"id"`
	LocationID   uuid.UUID `json:"location_id"`
	WithdrawalID uuid.UUID `json:"withdrawal_id"`
	ClaimantID   uuid.UUID `json:"claimant_id"`
	AmountMsat   int64     `json:"amount_msat"`
	CreatedAt    time.Time `json:"created_at"`
}

// WithdrawChallenge is the one-shot k1 secret minted on a verified tap
// and consumed by the LNURL callback. It lives in Redis, not Postgres.
type WithdrawChallenge struct {
	K1            string    `json:"k1"`
	LocationID    uuid.UUID `json:"location_id"`
	ClaimantID    uuid.UUID `json:"claimant_id"`
	ScanID        uuid.UUID `json:"scan_id"`
	MaxAmountMsat int64     `json:"max_amount_msat"`
	CreatedAt     time.Time `json:"created_at"`
}
