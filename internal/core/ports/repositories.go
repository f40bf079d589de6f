package ports

import (
	"context"
	"time"

	"satshunt/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LocationRepository defines persistence operations for locations.
// Methods accepting pgx.Tx run inside transaction blocks; GetByIDForUpdate
// takes the per-location row lock that serializes balance math.
type LocationRepository interface {
	Create(ctx context.Context, location *domain.Location) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Location, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Location, error)
	List(ctx context.Context) ([]domain.Location, error)
	SetLastRefillAt(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
	SetLastWithdrawAt(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
}

// CardRepository defines persistence operations for NFC cards.
type CardRepository interface {
	Create(ctx context.Context, card *domain.NfcCard) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.NfcCard, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.NfcCard, error)
	GetByWriteToken(ctx context.Context, token string) (*domain.NfcCard, error)
	// MarkProgrammed stores the UID, clears the write token and moves the
	// card to PROGRAMMED.
	MarkProgrammed(ctx context.Context, id uuid.UUID, uid string) error
	// AdoptUID binds the tag UID on a card that was never programmed with
	// one, inside the caller's transaction.
	AdoptUID(ctx context.Context, tx pgx.Tx, id uuid.UUID, uid string) error
	// AdvanceCounter persists a newly accepted tap counter and activates
	// the card on its first verified tap.
	AdvanceCounter(ctx context.Context, tx pgx.Tx, id uuid.UUID, counter int64) error
	// Rearm stores a fresh write token and key version and returns the
	// card to the programmable state. The tap counter resets because
	// reprogramming resets the tag's SDM read counter.
	Rearm(ctx context.Context, id uuid.UUID, keyVersion int, writeToken string) error
}

// ScanRepository records accepted taps for auditing.
type ScanRepository interface {
	Create(ctx context.Context, tx pgx.Tx, scan *domain.Scan) error
	// LinkClaim points a scan at the claim its withdrawal produced.
	LinkClaim(ctx context.Context, tx pgx.Tx, scanID, claimID uuid.UUID) error
	CountByLocation(ctx context.Context, locationID uuid.UUID) (int64, error)
}

// LedgerRepository defines persistence for the append-only pool ledger.
// Balances are aggregates over these rows, never stored columns.
type LedgerRepository interface {
	CreateCredit(ctx context.Context, tx pgx.Tx, credit *domain.PoolCredit) error
	CreateClaim(ctx context.Context, tx pgx.Tx, claim *domain.Claim) error
	// SumCredits and SumClaims aggregate inside the caller's transaction
	// so they observe the locked row's consistent snapshot.
	SumCredits(ctx context.Context, tx pgx.Tx, locationID uuid.UUID) (int64, error)
	SumClaims(ctx context.Context, tx pgx.Tx, locationID uuid.UUID) (int64, error)
	ClaimStats(ctx context.Context, locationID uuid.UUID) (count int64, total int64, err error)
	CreditStats(ctx context.Context, locationID uuid.UUID) (total int64, err error)
}

// WithdrawalRepository defines persistence for pending withdrawals.
type WithdrawalRepository interface {
	// Create inserts a PENDING withdrawal. Returns
	// apperror.ErrDuplicateWithdrawal when a pending row for the same
	// (claimant, invoice) pair already exists.
	Create(ctx context.Context, tx pgx.Tx, w *domain.PendingWithdrawal) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PendingWithdrawal, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PendingWithdrawal, error)
	// GetByClaimantInvoice returns the most recent withdrawal for the
	// (claimant, invoice) pair, so a retried callback can replay the
	// recorded outcome.
	GetByClaimantInvoice(ctx context.Context, claimantID uuid.UUID, invoice string) (*domain.PendingWithdrawal, error)
	SumPending(ctx context.Context, tx pgx.Tx, locationID uuid.UUID) (int64, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, id uuid.UUID, paymentHash string) error
	// SetPaymentHash records the in-flight payment hash so the sweep can
	// query the payer later.
	SetPaymentHash(ctx context.Context, id uuid.UUID, paymentHash string) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) error
	// ListStalePending returns pending withdrawals created before the
	// cutoff, for the reconciliation sweep.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.PendingWithdrawal, error)
}

// DonationRepository defines persistence operations for donations.
type DonationRepository interface {
	Create(ctx context.Context, donation *domain.Donation) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Donation, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Donation, error)
	ListOpen(ctx context.Context, limit int) ([]domain.Donation, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.DonationStatus, receivedAt *time.Time) error
}

// UserRepository defines persistence operations for player accounts.
// There is no stored balance: SumTransactions computes it as the signed
// sum of the user's custodial ledger.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.User, error)
	CreateTransaction(ctx context.Context, tx pgx.Tx, utx *domain.UserTransaction) error
	// SumTransactions returns Σ(credits) − Σ(WITHDRAW) in msat inside the
	// caller's transaction.
	SumTransactions(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error)
	// MarkTransactionStatus resolves a WITHDRAW entry's payment outcome.
	MarkTransactionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.UserTransactionStatus, paymentHash *string) error
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.UserTransaction, error)
	// ListStalePendingWithdraws returns in-flight WITHDRAW entries created
	// before the cutoff, for the wallet reconciliation sweep.
	ListStalePendingWithdraws(ctx context.Context, cutoff time.Time, limit int) ([]domain.UserTransaction, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
