package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserStatus represents the state of a player account.
type UserStatus string

const (
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusDisabled UserStatus = "DISABLED"
)

// User represents a registered player. The custodial balance is never
// stored on this row; it is the signed sum of the user's transactions,
// recomputed on every read.
type User struct {
	ID               uuid.UUID  `json:"id"`
	Username         string     `json:"username"`
	PasswordHash     string     `json:"-"`
	LightningAddress *string    `json:"lightning_address,omitempty"`
	Status           UserStatus `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsActive returns true if the account may collect and withdraw.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// UserTransactionType represents the kind of custodial balance movement.
type UserTransactionType string

const (
	// UserTransactionTypeCollect credits a tap reward to the balance.
	UserTransactionTypeCollect UserTransactionType = "COLLECT"
	// UserTransactionTypeWithdraw debits the balance to a Lightning invoice.
	UserTransactionTypeWithdraw UserTransactionType = "WITHDRAW"
	// UserTransactionTypeRefund compensates a withdraw whose payment failed.
	UserTransactionTypeRefund UserTransactionType = "REFUND"
)

// UserTransactionStatus tracks the payment outcome of a WITHDRAW entry.
// COLLECT and REFUND entries are always COMPLETED.
type UserTransactionStatus string

const (
	UserTransactionStatusPending   UserTransactionStatus = "PENDING"
	UserTransactionStatusCompleted UserTransactionStatus = "COMPLETED"
	UserTransactionStatusFailed    UserTransactionStatus = "FAILED"
)

// UserTransaction is an immutable entry in a player's custodial ledger.
// The balance is Σ(COLLECT) + Σ(REFUND) − Σ(WITHDRAW); a failed withdraw
// is compensated by a REFUND entry, never by editing the amount.
type UserTransaction struct {
	ID          uuid.UUID             `json:"id"`
	UserID      uuid.UUID             `json:"user_id"`
	Type        UserTransactionType   `json:"type"`
	AmountMsat  int64                 `json:"amount_msat"`
	Status      UserTransactionStatus `json:"status"`
	LocationID  *uuid.UUID            `json:"location_id,omitempty"`
	Invoice     *string               `json:"invoice,omitempty"`
	PaymentHash *string               `json:"payment_hash,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}
