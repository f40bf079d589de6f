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

const locationColumns = `id, name, description, latitude, longitude, max_capacity_msat, status, last_refill_at, last_withdraw_at, created_at, updated_at`

// LocationRepo implements ports.LocationRepository.
type LocationRepo struct {
	pool Pool
}

// NewLocationRepo creates a new LocationRepo.
func NewLocationRepo(pool Pool) *LocationRepo {
	return &LocationRepo{pool: pool}
}

// Create inserts a new location.
func (r *LocationRepo) Create(ctx context.Context, l *domain.Location) error {
	query := `INSERT INTO locations (id, name, description, latitude, longitude, max_capacity_msat, status, last_refill_at, last_withdraw_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		l.ID, l.Name, l.Description, l.Latitude, l.Longitude, l.MaxCapacityMsat, l.Status,
		l.LastRefillAt, l.LastWithdrawAt, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	return nil
}

// GetByID fetches a location by its UUID.
func (r *LocationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations WHERE id = $1`
	return scanLocation(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a location inside tx with a row lock. This lock
// serializes all balance math for the location.
func (r *LocationRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations WHERE id = $1 FOR UPDATE`
	return scanLocation(tx.QueryRow(ctx, query, id))
}

// List returns all locations ordered by name.
func (r *LocationRepo) List(ctx context.Context) ([]domain.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations ORDER BY name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var locations []domain.Location
	for rows.Next() {
		var l domain.Location
		if err := rows.Scan(
			&l.ID, &l.Name, &l.Description, &l.Latitude, &l.Longitude, &l.MaxCapacityMsat, &l.Status,
			&l.LastRefillAt, &l.LastWithdrawAt, &l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

// SetLastRefillAt stamps the replenishment anchor after a pool credit.
func (r *LocationRepo) SetLastRefillAt(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	query := `UPDATE locations SET last_refill_at = $1, updated_at = NOW() WHERE id = $2`
	_, err := tx.Exec(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("set last_refill_at: %w", err)
	}
	return nil
}

// SetLastWithdrawAt stamps the replenishment anchor after a claim.
func (r *LocationRepo) SetLastWithdrawAt(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	query := `UPDATE locations SET last_withdraw_at = $1, updated_at = NOW() WHERE id = $2`
	_, err := tx.Exec(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("set last_withdraw_at: %w", err)
	}
	return nil
}

func scanLocation(row pgx.Row) (*domain.Location, error) {
	l := &domain.Location{}
	err := row.Scan(
		&l.ID, &l.Name, &l.Description, &l.Latitude, &l.Longitude, &l.MaxCapacityMsat, &l.Status,
		&l.LastRefillAt, &l.LastWithdrawAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get location: %w", err)
	}
	return l, nil
}
