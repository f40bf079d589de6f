package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"satshunt/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, username, password_hash, lightning_address, status, created_at, updated_at`

const userTransactionColumns = `id, user_id, type, amount_msat, status, location_id, invoice, payment_hash, created_at`

// UserRepo implements ports.UserRepository. The custodial balance is
// never stored; SumTransactions derives it from the ledger rows.
type UserRepo struct {
	pool Pool
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(pool Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// Create inserts a new user.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	query := `INSERT INTO users (id, username, password_hash, lightning_address, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		u.ID, u.Username, u.PasswordHash, u.LightningAddress,
		u.Status, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID fetches a user by its UUID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetByUsername fetches a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(r.pool.QueryRow(ctx, query, username))
}

// GetByIDForUpdate fetches a user inside tx with a row lock. The lock
// serializes the balance-sum-then-append sequence for that user.
func (r *UserRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	return scanUser(tx.QueryRow(ctx, query, id))
}

// CreateTransaction appends a custodial ledger entry inside the caller's
// transaction.
func (r *UserRepo) CreateTransaction(ctx context.Context, tx pgx.Tx, t *domain.UserTransaction) error {
	query := `INSERT INTO user_transactions (id, user_id, type, amount_msat, status, location_id, invoice, payment_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := tx.Exec(ctx, query, t.ID, t.UserID, t.Type, t.AmountMsat, t.Status, t.LocationID, t.Invoice, t.PaymentHash, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user transaction: %w", err)
	}
	return nil
}

// SumTransactions computes the custodial balance in msat as the signed
// sum of the user's ledger: withdraws subtract, everything else adds.
func (r *UserRepo) SumTransactions(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(SUM(CASE WHEN type = $2 THEN -amount_msat ELSE amount_msat END), 0)
		FROM user_transactions WHERE user_id = $1`

	var sum int64
	if err := tx.QueryRow(ctx, query, userID, domain.UserTransactionTypeWithdraw).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum user transactions: %w", err)
	}
	return sum, nil
}

// MarkTransactionStatus resolves a WITHDRAW entry's payment outcome
// inside the caller's transaction.
func (r *UserRepo) MarkTransactionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.UserTransactionStatus, paymentHash *string) error {
	query := `UPDATE user_transactions
		SET status = $1, payment_hash = COALESCE($2, payment_hash)
		WHERE id = $3`
	_, err := tx.Exec(ctx, query, status, paymentHash, id)
	if err != nil {
		return fmt.Errorf("mark user transaction: %w", err)
	}
	return nil
}

// ListTransactions returns the user's ledger entries, newest first.
func (r *UserRepo) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.UserTransaction, error) {
	query := `SELECT ` + userTransactionColumns + `
		FROM user_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list user transactions: %w", err)
	}
	defer rows.Close()
	return collectUserTransactions(rows)
}

// ListStalePendingWithdraws returns in-flight WITHDRAW entries created
// before the cutoff, oldest first, for the wallet reconciliation sweep.
func (r *UserRepo) ListStalePendingWithdraws(ctx context.Context, cutoff time.Time, limit int) ([]domain.UserTransaction, error) {
	query := `SELECT ` + userTransactionColumns + `
		FROM user_transactions
		WHERE type = $1 AND status = $2 AND created_at < $3
		ORDER BY created_at
		LIMIT $4`

	rows, err := r.pool.Query(ctx, query,
		domain.UserTransactionTypeWithdraw, domain.UserTransactionStatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending withdraws: %w", err)
	}
	defer rows.Close()
	return collectUserTransactions(rows)
}

func collectUserTransactions(rows pgx.Rows) ([]domain.UserTransaction, error) {
	var out []domain.UserTransaction
	for rows.Next() {
		var t domain.UserTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.AmountMsat, &t.Status, &t.LocationID, &t.Invoice, &t.PaymentHash, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanUser(row pgx.Row) (*domain.User, error) {
	u := &domain.User{}
	err := row.Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.LightningAddress,
		&u.Status, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}
