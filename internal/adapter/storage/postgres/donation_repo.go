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

const donationColumns = `id, location_id, amount_msat, invoice, payment_hash, donor_name, comment, status, created_at, expires_at, received_at`

// DonationRepo implements ports.DonationRepository.
type DonationRepo struct {
	pool Pool
}

// NewDonationRepo creates a new DonationRepo.
func NewDonationRepo(pool Pool) *DonationRepo {
	return &DonationRepo{pool: pool}
}

// Create inserts a new donation.
func (r *DonationRepo) Create(ctx context.Context, d *domain.Donation) error {
	query := `INSERT INTO donations (id, location_id, amount_msat, invoice, payment_hash, donor_name, comment, status, created_at, expires_at, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.LocationID, d.AmountMsat, d.Invoice, d.PaymentHash,
		d.DonorName, d.Comment, d.Status, d.CreatedAt, d.ExpiresAt, d.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert donation: %w", err)
	}
	return nil
}

// GetByID fetches a donation by its UUID.
func (r *DonationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE id = $1`
	return scanDonation(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a donation inside tx with a row lock, so only
// one settlement pass can flip its status.
func (r *DonationRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE id = $1 FOR UPDATE`
	return scanDonation(tx.QueryRow(ctx, query, id))
}

// ListOpen returns unresolved donations, oldest first.
func (r *DonationRepo) ListOpen(ctx context.Context, limit int) ([]domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, domain.DonationStatusCreated, limit)
	if err != nil {
		return nil, fmt.Errorf("list open donations: %w", err)
	}
	defer rows.Close()

	var out []domain.Donation
	for rows.Next() {
		var d domain.Donation
		if err := rows.Scan(
			&d.ID, &d.LocationID, &d.AmountMsat, &d.Invoice, &d.PaymentHash,
			&d.DonorName, &d.Comment, &d.Status, &d.CreatedAt, &d.ExpiresAt, &d.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan donation: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateStatus flips a donation's status inside the caller's transaction.
func (r *DonationRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.DonationStatus, receivedAt *time.Time) error {
	query := `UPDATE donations SET status = $1, received_at = $2 WHERE id = $3`
	_, err := tx.Exec(ctx, query, status, receivedAt, id)
	if err != nil {
		return fmt.Errorf("update donation status: %w", err)
	}
	return nil
}

func scanDonation(row pgx.Row) (*domain.Donation, error) {
	d := &domain.Donation{}
	err := row.Scan(
		&d.ID, &d.LocationID, &d.AmountMsat, &d.Invoice, &d.PaymentHash,
		&d.DonorName, &d.Comment, &d.Status, &d.CreatedAt, &d.ExpiresAt, &d.ReceivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get donation: %w", err)
	}
	return d, nil
}
