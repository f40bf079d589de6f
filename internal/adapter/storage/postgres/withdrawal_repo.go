package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"satshunt/internal/core/domain"
	"satshunt/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

const withdrawalColumns = `id, location_id, claimant_id, scan_id, invoice, amount_msat, status, payment_hash, fail_reason, created_at, resolved_at`

// WithdrawalRepo implements ports.WithdrawalRepository.
type WithdrawalRepo struct {
	pool Pool
}

// NewWithdrawalRepo creates a new WithdrawalRepo.
func NewWithdrawalRepo(pool Pool) *WithdrawalRepo {
	return &WithdrawalRepo{pool: pool}
}

// Create inserts a PENDING withdrawal inside the caller's transaction. The
// partial unique index on (claimant_id, invoice) rejects concurrent
// duplicates that slipped past the cache.
func (r *WithdrawalRepo) Create(ctx context.Context, tx pgx.Tx, w *domain.PendingWithdrawal) error {
	query := `INSERT INTO pending_withdrawals (id, location_id, claimant_id, scan_id, invoice, amount_msat, status, payment_hash, fail_reason, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := tx.Exec(ctx, query,
		w.ID, w.LocationID, w.ClaimantID, w.ScanID, w.Invoice, w.AmountMsat, w.Status,
		w.PaymentHash, w.FailReason, w.CreatedAt, w.ResolvedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperror.ErrDuplicateWithdrawal()
		}
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

// GetByID fetches a withdrawal by its UUID.
func (r *WithdrawalRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PendingWithdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM pending_withdrawals WHERE id = $1`
	return scanWithdrawal(r.pool.QueryRow(ctx, query, id))
}

// GetByClaimantInvoice returns the most recent withdrawal for the
// (claimant, invoice) pair.
func (r *WithdrawalRepo) GetByClaimantInvoice(ctx context.Context, claimantID uuid.UUID, invoice string) (*domain.PendingWithdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM pending_withdrawals
		WHERE claimant_id = $1 AND invoice = $2
		ORDER BY created_at DESC
		LIMIT 1`
	return scanWithdrawal(r.pool.QueryRow(ctx, query, claimantID, invoice))
}

// GetByIDForUpdate fetches a withdrawal inside tx with a row lock.
func (r *WithdrawalRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PendingWithdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM pending_withdrawals WHERE id = $1 FOR UPDATE`
	return scanWithdrawal(tx.QueryRow(ctx, query, id))
}

// SumPending aggregates unresolved reservations inside the caller's
// transaction.
func (r *WithdrawalRepo) SumPending(ctx context.Context, tx pgx.Tx, locationID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(SUM(amount_msat), 0) FROM pending_withdrawals WHERE location_id = $1 AND status = $2`

	var sum int64
	if err := tx.QueryRow(ctx, query, locationID, domain.WithdrawalStatusPending).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum pending: %w", err)
	}
	return sum, nil
}

// MarkCompleted resolves a withdrawal as COMPLETED.
func (r *WithdrawalRepo) MarkCompleted(ctx context.Context, tx pgx.Tx, id uuid.UUID, paymentHash string) error {
	query := `UPDATE pending_withdrawals
		SET status = $1, payment_hash = $2, resolved_at = NOW()
		WHERE id = $3`
	_, err := tx.Exec(ctx, query, domain.WithdrawalStatusCompleted, paymentHash, id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// SetPaymentHash records the in-flight payment hash on a pending row.
func (r *WithdrawalRepo) SetPaymentHash(ctx context.Context, id uuid.UUID, paymentHash string) error {
	query := `UPDATE pending_withdrawals SET payment_hash = $1 WHERE id = $2 AND status = $3`
	_, err := r.pool.Exec(ctx, query, paymentHash, id, domain.WithdrawalStatusPending)
	if err != nil {
		return fmt.Errorf("set payment hash: %w", err)
	}
	return nil
}

// MarkFailed resolves a withdrawal as FAILED with a reason.
func (r *WithdrawalRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) error {
	query := `UPDATE pending_withdrawals
		SET status = $1, fail_reason = $2, resolved_at = NOW()
		WHERE id = $3`
	_, err := tx.Exec(ctx, query, domain.WithdrawalStatusFailed, reason, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// ListStalePending returns pending withdrawals created before the cutoff,
// oldest first.
func (r *WithdrawalRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.PendingWithdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM pending_withdrawals
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, domain.WithdrawalStatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingWithdrawal
	for rows.Next() {
		var w domain.PendingWithdrawal
		if err := rows.Scan(
			&w.ID, &w.LocationID, &w.ClaimantID, &w.ScanID, &w.Invoice, &w.AmountMsat, &w.Status,
			&w.PaymentHash, &w.FailReason, &w.CreatedAt, &w.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWithdrawal(row pgx.Row) (*domain.PendingWithdrawal, error) {
	w := &domain.PendingWithdrawal{}
	err := row.Scan(
		&w.ID, &w.LocationID, &w.ClaimantID, &w.ScanID, &w.Invoice, &w.AmountMsat, &w.Status,
		&w.PaymentHash, &w.FailReason, &w.CreatedAt, &w.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get withdrawal: %w", err)
	}
	return w, nil
}
