package postgres

import (
	"context"
	"fmt"

	"satshunt/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerRepo implements ports.LedgerRepository over the append-only
// pool_credits and claims tables.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// CreateCredit appends a pool credit inside the caller's transaction.
func (r *LedgerRepo) CreateCredit(ctx context.Context, tx pgx.Tx, c *domain.PoolCredit) error {
	query := `INSERT INTO pool_credits (id, location_id, amount_msat, source, donation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.Exec(ctx, query, c.ID, c.LocationID, c.AmountMsat, c.Source, c.DonationID, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pool credit: %w", err)
	}
	return nil
}

// CreateClaim appends a claim inside the caller's transaction.
func (r *LedgerRepo) CreateClaim(ctx context.Context, tx pgx.Tx, c *domain.Claim) error {
	query := `INSERT INTO claims (id, location_id, withdrawal_id, claimant_id, amount_msat, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.Exec(ctx, query, c.ID, c.LocationID, c.WithdrawalID, c.ClaimantID, c.AmountMsat, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

// SumCredits aggregates credits inside the caller's transaction.
func (r *LedgerRepo) SumCredits(ctx context.Context, tx pgx.Tx, locationID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(SUM(amount_msat), 0) FROM pool_credits WHERE location_id = $1`

	var sum int64
	if err := tx.QueryRow(ctx, query, locationID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum credits: %w", err)
	}
	return sum, nil
}

// SumClaims aggregates claims inside the caller's transaction.
func (r *LedgerRepo) SumClaims(ctx context.Context, tx pgx.Tx, locationID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(SUM(amount_msat), 0) FROM claims WHERE location_id = $1`

	var sum int64
	if err := tx.QueryRow(ctx, query, locationID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum claims: %w", err)
	}
	return sum, nil
}

// ClaimStats returns the claim count and total for reporting. No lock is
// taken: stats tolerate slight staleness.
func (r *LedgerRepo) ClaimStats(ctx context.Context, locationID uuid.UUID) (int64, int64, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(amount_msat), 0) FROM claims WHERE location_id = $1`

	var count, total int64
	if err := r.pool.QueryRow(ctx, query, locationID).Scan(&count, &total); err != nil {
		return 0, 0, fmt.Errorf("claim stats: %w", err)
	}
	return count, total, nil
}

// CreditStats returns the donated total for reporting.
func (r *LedgerRepo) CreditStats(ctx context.Context, locationID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(SUM(amount_msat), 0) FROM pool_credits WHERE location_id = $1 AND source = $2`

	var total int64
	if err := r.pool.QueryRow(ctx, query, locationID, domain.CreditSourceDonation).Scan(&total); err != nil {
		return 0, fmt.Errorf("credit stats: %w", err)
	}
	return total, nil
}
