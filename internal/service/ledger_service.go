package service

import (
	"context"
	"fmt"
	"time"

	"satshunt/internal/core/domain"
	"satshunt/internal/core/ports"
	"satshunt/pkg/apperror"
	"satshunt/pkg/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// LedgerServiceImpl implements ports.LedgerService. All balance math runs
// under the location row lock so concurrent reservations serialize.
type LedgerServiceImpl struct {
	locationRepo   ports.LocationRepository
	ledgerRepo     ports.LedgerRepository
	withdrawalRepo ports.WithdrawalRepository
	scanRepo       ports.ScanRepository
	transactor     ports.DBTransactor
	timeToFull     time.Duration
	metrics        *metrics.Metrics
	log            zerolog.Logger
	now            func() time.Time
}

// NewLedgerService creates a new LedgerServiceImpl. timeToFull is how long
// a freshly drained or refilled pool takes to become fully withdrawable.
func NewLedgerService(
	locationRepo ports.LocationRepository,
	ledgerRepo ports.LedgerRepository,
	withdrawalRepo ports.WithdrawalRepository,
	scanRepo ports.ScanRepository,
	transactor ports.DBTransactor,
	timeToFull time.Duration,
	m *metrics.Metrics,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		locationRepo:   locationRepo,
		ledgerRepo:     ledgerRepo,
		withdrawalRepo: withdrawalRepo,
		scanRepo:       scanRepo,
		transactor:     transactor,
		timeToFull:     timeToFull,
		metrics:        m,
		log:            log,
		now:            time.Now,
	}
}

// fillRatio returns how much of the capped pool is withdrawable right now,
// in [0, 1]. The pool refills linearly over timeToFull, restarting from
// the most recent of the last refill and the last withdrawal.
func (s *LedgerServiceImpl) fillRatio(location *domain.Location) float64 {
	if s.timeToFull <= 0 {
		return 1
	}

	now := s.now()
	elapsed := s.timeToFull
	if location.LastRefillAt != nil {
		elapsed = now.Sub(*location.LastRefillAt)
	}
	if location.LastWithdrawAt != nil {
		if since := now.Sub(*location.LastWithdrawAt); since < elapsed {
			elapsed = since
		}
	}

	ratio := float64(elapsed) / float64(s.timeToFull)
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

// availableInTx computes the withdrawable amount inside the caller's
// transaction: min(pool, capacity) scaled by the fill ratio, minus
// outstanding reservations.
func (s *LedgerServiceImpl) availableInTx(ctx context.Context, tx pgx.Tx, location *domain.Location) (int64, error) {
	credits, err := s.ledgerRepo.SumCredits(ctx, tx, location.ID)
	if err != nil {
		return 0, fmt.Errorf("sum credits: %w", err)
	}
	claims, err := s.ledgerRepo.SumClaims(ctx, tx, location.ID)
	if err != nil {
		return 0, fmt.Errorf("sum claims: %w", err)
	}
	pending, err := s.withdrawalRepo.SumPending(ctx, tx, location.ID)
	if err != nil {
		return 0, fmt.Errorf("sum pending: %w", err)
	}

	pool := credits - claims
	if pool > location.MaxCapacityMsat {
		pool = location.MaxCapacityMsat
	}

	available := int64(float64(pool)*s.fillRatio(location)) - pending
	if available < 0 {
		available = 0
	}
	return available, nil
}

// PoolBalance returns credits minus claims for the location.
func (s *LedgerServiceImpl) PoolBalance(ctx context.Context, locationID uuid.UUID) (int64, error) {
	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	credits, err := s.ledgerRepo.SumCredits(ctx, tx, locationID)
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("sum credits: %w", err))
	}
	claims, err := s.ledgerRepo.SumClaims(ctx, tx, locationID)
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("sum claims: %w", err))
	}
	return credits - claims, nil
}

// Available returns the throttled withdrawable amount for the location.
func (s *LedgerServiceImpl) Available(ctx context.Context, locationID uuid.UUID) (int64, error) {
	location, err := s.locationRepo.GetByID(ctx, locationID)
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("load location: %w", err))
	}
	if location == nil {
		return 0, apperror.ErrNotFound("Location")
	}

	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	available, err := s.availableInTx(ctx, tx, location)
	if err != nil {
		return 0, apperror.ErrDatabaseError(err)
	}
	return available, nil
}

// Reserve atomically checks availability and inserts a pending withdrawal.
func (s *LedgerServiceImpl) Reserve(ctx context.Context, req ports.ReserveRequest) (*domain.PendingWithdrawal, error) {
	if req.AmountMsat <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	location, err := s.locationRepo.GetByIDForUpdate(ctx, tx, req.LocationID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock location: %w", err))
	}
	if location == nil {
		return nil, apperror.ErrNotFound("Location")
	}
	if !location.IsActive() {
		return nil, apperror.ErrLocationNotActive()
	}

	available, err := s.availableInTx(ctx, tx, location)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if req.AmountMsat > available {
		s.metrics.WithdrawalOutcome("rejected")
		s.log.Info().
			Str("location_id", location.ID.String()).
			Int64("requested_msat", req.AmountMsat).
			Int64("available_msat", available).
			Msg("reservation rejected")
		return nil, apperror.ErrInsufficientFunds()
	}

	w := &domain.PendingWithdrawal{
		ID:         uuid.New(),
		LocationID: req.LocationID,
		ClaimantID: req.ClaimantID,
		ScanID:     req.ScanID,
		Invoice:    req.Invoice,
		AmountMsat: req.AmountMsat,
		Status:     domain.WithdrawalStatusPending,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.withdrawalRepo.Create(ctx, tx, w); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.metrics.WithdrawalOutcome("pending")
	return w, nil
}

// Commit converts a pending withdrawal into a claim. Calling it again for
// a completed withdrawal is a no-op, so payer retries stay safe.
func (s *LedgerServiceImpl) Commit(ctx context.Context, withdrawalID uuid.UUID, paymentHash string) error {
	current, err := s.withdrawalRepo.GetByID(ctx, withdrawalID)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("load withdrawal: %w", err))
	}
	if current == nil {
		return apperror.ErrNotFound("Withdrawal")
	}
	if current.Status == domain.WithdrawalStatusCompleted {
		return nil
	}

	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Lock order is always location before withdrawal.
	location, err := s.locationRepo.GetByIDForUpdate(ctx, tx, current.LocationID)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("lock location: %w", err))
	}
	if location == nil {
		return apperror.ErrNotFound("Location")
	}

	w, err := s.withdrawalRepo.GetByIDForUpdate(ctx, tx, withdrawalID)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("lock withdrawal: %w", err))
	}
	if w == nil {
		return apperror.ErrNotFound("Withdrawal")
	}
	if w.Status == domain.WithdrawalStatusCompleted {
		return nil
	}
	if w.Status == domain.WithdrawalStatusFailed {
		return apperror.Validation("cannot commit a failed withdrawal")
	}

	if err := s.withdrawalRepo.MarkCompleted(ctx, tx, w.ID, paymentHash); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("mark completed: %w", err))
	}

	claim := &domain.Claim{
		ID:           uuid.New(),
		LocationID:   w.LocationID,
		WithdrawalID: w.ID,
		ClaimantID:   w.ClaimantID,
		AmountMsat:   w.AmountMsat,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.ledgerRepo.CreateClaim(ctx, tx, claim); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("create claim: %w", err))
	}

	// Tie the claim back to the tap that earned it.
	if w.ScanID != nil {
		if err := s.scanRepo.LinkClaim(ctx, tx, *w.ScanID, claim.ID); err != nil {
			return apperror.ErrDatabaseError(fmt.Errorf("link scan: %w", err))
		}
	}

	if err := s.locationRepo.SetLastWithdrawAt(ctx, tx, w.LocationID, s.now().UTC()); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("stamp withdraw time: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.metrics.WithdrawalOutcome("committed")
	s.metrics.WithdrawalCommitted(w.AmountMsat)
	s.log.Info().
		Str("withdrawal_id", w.ID.String()).
		Str("location_id", w.LocationID.String()).
		Int64("amount_msat", w.AmountMsat).
		Msg("withdrawal committed")
	return nil
}

// Release frees a reservation after a failed payment. Releasing a
// withdrawal that already reached a terminal state is a no-op.
func (s *LedgerServiceImpl) Release(ctx context.Context, withdrawalID uuid.UUID, reason string) error {
	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	w, err := s.withdrawalRepo.GetByIDForUpdate(ctx, tx, withdrawalID)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("lock withdrawal: %w", err))
	}
	if w == nil {
		return apperror.ErrNotFound("Withdrawal")
	}
	if w.IsTerminal() {
		return nil
	}

	if err := s.withdrawalRepo.MarkFailed(ctx, tx, w.ID, reason); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("mark failed: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.metrics.WithdrawalOutcome("released")
	s.log.Info().
		Str("withdrawal_id", w.ID.String()).
		Str("reason", reason).
		Msg("withdrawal released")
	return nil
}

// AddCredit appends a pool credit and stamps the refill time in its own
// transaction.
func (s *LedgerServiceImpl) AddCredit(ctx context.Context, locationID uuid.UUID, amountMsat int64, source domain.CreditSource, donationID *uuid.UUID) error {
	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := s.CreditInTx(ctx, tx, locationID, amountMsat, source, donationID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// CreditInTx appends a pool credit inside the caller's transaction so the
// credit commits or rolls back together with whatever settled it. The
// location row is locked before the insert.
func (s *LedgerServiceImpl) CreditInTx(ctx context.Context, tx pgx.Tx, locationID uuid.UUID, amountMsat int64, source domain.CreditSource, donationID *uuid.UUID) error {
	if amountMsat <= 0 {
		return apperror.ErrInvalidAmount()
	}

	location, err := s.locationRepo.GetByIDForUpdate(ctx, tx, locationID)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("lock location: %w", err))
	}
	if location == nil {
		return apperror.ErrNotFound("Location")
	}

	credit := &domain.PoolCredit{
		ID:         uuid.New(),
		LocationID: locationID,
		AmountMsat: amountMsat,
		Source:     source,
		DonationID: donationID,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.ledgerRepo.CreateCredit(ctx, tx, credit); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("create credit: %w", err))
	}

	if err := s.locationRepo.SetLastRefillAt(ctx, tx, locationID, s.now().UTC()); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("stamp refill time: %w", err))
	}

	s.log.Info().
		Str("location_id", locationID.String()).
		Int64("amount_msat", amountMsat).
		Str("source", string(source)).
		Msg("pool credited")
	return nil
}
