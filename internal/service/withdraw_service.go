package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"satshunt/internal/core/domain"
	"satshunt/internal/core/ports"
	"satshunt/pkg/apperror"
	"satshunt/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WithdrawConfig tunes the LNURL-withdraw protocol.
type WithdrawConfig struct {
	// CallbackURL is the absolute URL wallets call on the second leg.
	CallbackURL string
	// ChallengeTTL bounds the window between tap and callback.
	ChallengeTTL time.Duration
	// MinWithdrawMsat is the smallest invoice the service accepts.
	MinWithdrawMsat int64
	// PayTimeout bounds the synchronous wait for the payer.
	PayTimeout time.Duration
	// PendingGrace is how old a pending withdrawal must be before the
	// sweep reconciles it.
	PendingGrace time.Duration
	// SweepBatch caps withdrawals reconciled per sweep pass.
	SweepBatch int
}

// WithdrawServiceImpl implements ports.WithdrawService.
type WithdrawServiceImpl struct {
	tagAuth        ports.TagAuthService
	ledger         ports.LedgerService
	payer          ports.PayerService
	challenges     ports.ChallengeStore
	idempCache     ports.IdempotencyCache
	withdrawalRepo ports.WithdrawalRepository
	cfg            WithdrawConfig
	metrics        *metrics.Metrics
	log            zerolog.Logger
	now            func() time.Time
}

// NewWithdrawService creates a new WithdrawServiceImpl.
func NewWithdrawService(
	tagAuth ports.TagAuthService,
	ledger ports.LedgerService,
	payer ports.PayerService,
	challenges ports.ChallengeStore,
	idempCache ports.IdempotencyCache,
	withdrawalRepo ports.WithdrawalRepository,
	cfg WithdrawConfig,
	m *metrics.Metrics,
	log zerolog.Logger,
) *WithdrawServiceImpl {
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	return &WithdrawServiceImpl{
		tagAuth:        tagAuth,
		ledger:         ledger,
		payer:          payer,
		challenges:     challenges,
		idempCache:     idempCache,
		withdrawalRepo: withdrawalRepo,
		cfg:            cfg,
		metrics:        m,
		log:            log,
		now:            time.Now,
	}
}

// InitialRequest handles a verified tap and mints the LUD-03 first-leg
// response. The k1 challenge is single use and bounded by the location's
// available balance at tap time.
func (s *WithdrawServiceImpl) InitialRequest(ctx context.Context, cardID uuid.UUID, piccHex, cmacHex string) (*ports.WithdrawRequestResponse, error) {
	tap, err := s.tagAuth.VerifyTap(ctx, cardID, piccHex, cmacHex)
	if err != nil {
		return nil, err
	}

	available, err := s.ledger.Available(ctx, tap.Location.ID)
	if err != nil {
		return nil, err
	}
	if available < s.cfg.MinWithdrawMsat {
		return nil, apperror.ErrInsufficientFunds()
	}

	k1, err := generateRandomHex(32)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate k1: %w", err))
	}

	ch := &domain.WithdrawChallenge{
		K1:            k1,
		LocationID:    tap.Location.ID,
		ClaimantID:    tap.Card.ID,
		ScanID:        tap.Scan.ID,
		MaxAmountMsat: available,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.challenges.Put(ctx, ch, s.cfg.ChallengeTTL); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("store challenge: %w", err))
	}

	s.log.Info().
		Str("location_id", tap.Location.ID.String()).
		Str("card_id", tap.Card.ID.String()).
		Int64("max_msat", available).
		Msg("withdraw challenge issued")

	return &ports.WithdrawRequestResponse{
		Tag:                 "withdrawRequest",
		Callback:            s.cfg.CallbackURL,
		K1:                  k1,
		MinWithdrawableMsat: s.cfg.MinWithdrawMsat,
		MaxWithdrawableMsat: available,
		DefaultDescription:  fmt.Sprintf("satshunt reward: %s", tap.Location.Name),
	}, nil
}

// Callback handles the wallet's second leg: consume the challenge,
// validate the invoice, reserve the funds and pay.
func (s *WithdrawServiceImpl) Callback(ctx context.Context, k1, invoice string) error {
	ch, err := s.challenges.Take(ctx, k1)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("take challenge: %w", err))
	}
	if ch == nil {
		return apperror.ErrChallengeExpired()
	}

	amountMsat, err := invoiceAmountMsat(invoice)
	if err != nil {
		return err
	}
	if amountMsat < s.cfg.MinWithdrawMsat || amountMsat > ch.MaxAmountMsat {
		return apperror.ErrAmountOutOfBounds(s.cfg.MinWithdrawMsat, ch.MaxAmountMsat)
	}

	// Redis fast path; the partial unique index on pending withdrawals is
	// the authority when Redis restarts.
	idempKey := withdrawIdempotencyKey(ch.ClaimantID, invoice)
	fresh, err := s.idempCache.CheckAndSet(ctx, idempKey, s.cfg.ChallengeTTL)
	if err != nil {
		s.log.Warn().Err(err).Msg("idempotency cache unavailable, relying on db constraint")
	} else if !fresh {
		return s.replayOutcome(ctx, ch.ClaimantID, invoice)
	}

	scanID := ch.ScanID
	w, err := s.ledger.Reserve(ctx, ports.ReserveRequest{
		LocationID: ch.LocationID,
		ClaimantID: ch.ClaimantID,
		ScanID:     &scanID,
		Invoice:    invoice,
		AmountMsat: amountMsat,
	})
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && appErr.Code == "LED_004" {
			return s.replayOutcome(ctx, ch.ClaimantID, invoice)
		}
		return err
	}

	return s.pay(ctx, w, invoice, idempKey)
}

// replayOutcome answers a repeated (claimant, invoice) callback with the
// outcome of the first attempt, so wallet retries read as idempotent
// instead of erroring. A still-pending attempt also replays OK; the sweep
// settles it.
func (s *WithdrawServiceImpl) replayOutcome(ctx context.Context, claimantID uuid.UUID, invoice string) error {
	w, err := s.withdrawalRepo.GetByClaimantInvoice(ctx, claimantID, invoice)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("load prior withdrawal: %w", err))
	}
	if w == nil {
		return apperror.ErrDuplicateWithdrawal()
	}
	switch w.Status {
	case domain.WithdrawalStatusFailed:
		reason := "payment failed"
		if w.FailReason != nil && *w.FailReason != "" {
			reason = *w.FailReason
		}
		return apperror.ErrPaymentFailed(fmt.Errorf("%s", reason))
	default:
		// Completed, or pending with the payer still working on it.
		return nil
	}
}

func (s *WithdrawServiceImpl) pay(ctx context.Context, w *domain.PendingWithdrawal, invoice, idempKey string) error {
	payCtx := ctx
	if s.cfg.PayTimeout > 0 {
		var cancel context.CancelFunc
		payCtx, cancel = context.WithTimeout(ctx, s.cfg.PayTimeout)
		defer cancel()
	}

	start := s.now()
	result, err := s.payer.PayInvoice(payCtx, invoice)
	s.metrics.ObservePayer("pay_invoice", s.now().Sub(start))

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(payCtx.Err(), context.DeadlineExceeded) {
			// Outcome unknown; leave the reservation for the sweep.
			s.log.Warn().Str("withdrawal_id", w.ID.String()).Msg("payment outcome unknown, deferring to sweep")
			return nil
		}
		if relErr := s.ledger.Release(ctx, w.ID, err.Error()); relErr != nil {
			s.log.Error().Err(relErr).Str("withdrawal_id", w.ID.String()).Msg("release after pay error failed")
		}
		s.clearIdempotency(ctx, idempKey)
		return apperror.ErrPaymentFailed(err)
	}

	switch result.State {
	case ports.PaymentStateSucceeded:
		return s.ledger.Commit(ctx, w.ID, result.PaymentHash)
	case ports.PaymentStateFailed:
		if relErr := s.ledger.Release(ctx, w.ID, result.FailReason); relErr != nil {
			s.log.Error().Err(relErr).Str("withdrawal_id", w.ID.String()).Msg("release after failed payment failed")
		}
		s.clearIdempotency(ctx, idempKey)
		return apperror.ErrPaymentFailed(fmt.Errorf("%s", result.FailReason))
	default:
		// In flight. Record the hash so the sweep can reconcile.
		if result.PaymentHash != "" {
			if err := s.withdrawalRepo.SetPaymentHash(ctx, w.ID, result.PaymentHash); err != nil {
				s.log.Error().Err(err).Str("withdrawal_id", w.ID.String()).Msg("persist payment hash failed")
			}
		}
		s.log.Info().Str("withdrawal_id", w.ID.String()).Msg("payment pending")
		return nil
	}
}

func (s *WithdrawServiceImpl) clearIdempotency(ctx context.Context, key string) {
	// A failed attempt must not block a retry with the same invoice.
	if err := s.idempCache.Delete(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("clear idempotency key failed")
	}
}

// Sweep reconciles stale pending withdrawals against the payer. Rows with
// a known payment hash are resolved by its final state; rows that never
// reached the payer are released.
func (s *WithdrawServiceImpl) Sweep(ctx context.Context) error {
	start := s.now()
	defer func() { s.metrics.ObserveSweep(s.now().Sub(start)) }()

	cutoff := s.now().Add(-s.cfg.PendingGrace)
	stale, err := s.withdrawalRepo.ListStalePending(ctx, cutoff, s.cfg.SweepBatch)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("list stale pending: %w", err))
	}

	for i := range stale {
		w := &stale[i]
		if err := s.reconcile(ctx, w); err != nil {
			s.log.Error().Err(err).Str("withdrawal_id", w.ID.String()).Msg("reconcile failed")
		}
	}
	return nil
}

func (s *WithdrawServiceImpl) reconcile(ctx context.Context, w *domain.PendingWithdrawal) error {
	if w.PaymentHash == nil || *w.PaymentHash == "" {
		return s.ledger.Release(ctx, w.ID, "payment never started")
	}

	result, err := s.payer.CheckPayment(ctx, *w.PaymentHash)
	if err != nil {
		return fmt.Errorf("check payment: %w", err)
	}

	switch result.State {
	case ports.PaymentStateSucceeded:
		return s.ledger.Commit(ctx, w.ID, *w.PaymentHash)
	case ports.PaymentStateFailed:
		return s.ledger.Release(ctx, w.ID, result.FailReason)
	default:
		// Still in flight, try again next sweep.
		return nil
	}
}

// withdrawIdempotencyKey identifies one (claimant, invoice) attempt.
func withdrawIdempotencyKey(claimantID uuid.UUID, invoice string) string {
	return fmt.Sprintf("wd:%s:%s", claimantID, invoice)
}

// generateRandomHex generates a random hex string of n bytes.
func generateRandomHex(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
