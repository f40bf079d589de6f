package postgres

import (
	"context"
	"fmt"

	"satshunt/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ScanRepo implements ports.ScanRepository.
type ScanRepo struct {
	pool Pool
}

// NewScanRepo creates a new ScanRepo.
func NewScanRepo(pool Pool) *ScanRepo {
	return &ScanRepo{pool: pool}
}

// Create records an accepted tap inside the caller's transaction.
func (r *ScanRepo) Create(ctx context.Context, tx pgx.Tx, s *domain.Scan) error {
	query := `INSERT INTO scans (id, card_id, location_id, claimant_id, claim_id, counter, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query, s.ID, s.CardID, s.LocationID, s.ClaimantID, s.ClaimID, s.Counter, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	return nil
}

// LinkClaim points a scan at the claim its withdrawal produced.
func (r *ScanRepo) LinkClaim(ctx context.Context, tx pgx.Tx, scanID, claimID uuid.UUID) error {
	query := `UPDATE scans SET claim_id = $1 WHERE id = $2`

	_, err := tx.Exec(ctx, query, claimID, scanID)
	if err != nil {
		return fmt.Errorf("link scan claim: %w", err)
	}
	return nil
}

// CountByLocation returns how many accepted taps a location has seen.
func (r *ScanRepo) CountByLocation(ctx context.Context, locationID uuid.UUID) (int64, error) {
	query := `SELECT COUNT(*) FROM scans WHERE location_id = $1`

	var count int64
	if err := r.pool.QueryRow(ctx, query, locationID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count scans: %w", err)
	}
	return count, nil
}
