package postgres

import (
	"context"
	"errors"
	"fmt"

	"satshunt/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const cardColumns = `id, location_id, uid, key_version, counter, status, write_token, created_at, updated_at, activated_at`

// CardRepo implements ports.CardRepository.
type CardRepo struct {
	pool Pool
}

// NewCardRepo creates a new CardRepo.
func NewCardRepo(pool Pool) *CardRepo {
	return &CardRepo{pool: pool}
}

// Create inserts a new card.
func (r *CardRepo) Create(ctx context.Context, c *domain.NfcCard) error {
	query := `INSERT INTO nfc_cards (id, location_id, uid, key_version, counter, status, write_token, created_at, updated_at, activated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.LocationID, c.UID, c.KeyVersion, c.Counter, c.Status,
		c.WriteToken, c.CreatedAt, c.UpdatedAt, c.ActivatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

// GetByID fetches a card by its UUID.
func (r *CardRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.NfcCard, error) {
	query := `SELECT ` + cardColumns + ` FROM nfc_cards WHERE id = $1`
	return scanCard(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a card inside tx with a row lock, for counter
// monotonicity checks.
func (r *CardRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.NfcCard, error) {
	query := `SELECT ` + cardColumns + ` FROM nfc_cards WHERE id = $1 FOR UPDATE`
	return scanCard(tx.QueryRow(ctx, query, id))
}

// GetByWriteToken fetches a card by its one-shot programming token.
func (r *CardRepo) GetByWriteToken(ctx context.Context, token string) (*domain.NfcCard, error) {
	query := `SELECT ` + cardColumns + ` FROM nfc_cards WHERE write_token = $1`
	return scanCard(r.pool.QueryRow(ctx, query, token))
}

// MarkProgrammed stores the UID, clears the write token and moves the card
// to PROGRAMMED.
func (r *CardRepo) MarkProgrammed(ctx context.Context, id uuid.UUID, uid string) error {
	query := `UPDATE nfc_cards
		SET uid = $1, write_token = NULL, status = $2, updated_at = NOW()
		WHERE id = $3`
	tag, err := r.pool.Exec(ctx, query, uid, domain.CardStatusProgrammed, id)
	if err != nil {
		return fmt.Errorf("mark programmed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark programmed: card %s not found", id)
	}
	return nil
}

// AdoptUID binds the tag UID on first use, inside the caller's
// transaction. Only a card with no UID on file accepts one.
func (r *CardRepo) AdoptUID(ctx context.Context, tx pgx.Tx, id uuid.UUID, uid string) error {
	query := `UPDATE nfc_cards SET uid = $1, updated_at = NOW() WHERE id = $2 AND uid IS NULL`
	tag, err := tx.Exec(ctx, query, uid, id)
	if err != nil {
		return fmt.Errorf("adopt uid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("adopt uid: card %s already has a uid", id)
	}
	return nil
}

// AdvanceCounter persists a newly accepted tap counter and activates the
// card on its first verified tap.
func (r *CardRepo) AdvanceCounter(ctx context.Context, tx pgx.Tx, id uuid.UUID, counter int64) error {
	query := `UPDATE nfc_cards
		SET counter = $1,
		    status = $2,
		    activated_at = COALESCE(activated_at, NOW()),
		    updated_at = NOW()
		WHERE id = $3`
	_, err := tx.Exec(ctx, query, counter, domain.CardStatusActive, id)
	if err != nil {
		return fmt.Errorf("advance counter: %w", err)
	}
	return nil
}

// Rearm stores a fresh write token and key version and returns the card
// to the programmable state for key rotation. The counter resets because
// reprogramming resets the tag's SDM read counter.
func (r *CardRepo) Rearm(ctx context.Context, id uuid.UUID, keyVersion int, writeToken string) error {
	query := `UPDATE nfc_cards
		SET key_version = $1, write_token = $2, status = $3, counter = 0, updated_at = NOW()
		WHERE id = $4`
	tag, err := r.pool.Exec(ctx, query, keyVersion, writeToken, domain.CardStatusCreated, id)
	if err != nil {
		return fmt.Errorf("rearm card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rearm card: card %s not found", id)
	}
	return nil
}

func scanCard(row pgx.Row) (*domain.NfcCard, error) {
	c := &domain.NfcCard{}
	err := row.Scan(
		&c.ID, &c.LocationID, &c.UID, &c.KeyVersion, &c.Counter, &c.Status,
		&c.WriteToken, &c.CreatedAt, &c.UpdatedAt, &c.ActivatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get card: %w", err)
	}
	return c, nil
}
