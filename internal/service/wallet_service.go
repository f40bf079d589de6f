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
	"github.com/rs/zerolog"
)

// invoiceResolver turns a Lightning address into a bolt11 invoice.
type invoiceResolver interface {
	Resolve(ctx context.Context, address string, amountMsat int64) (string, error)
}

// WalletConfig tunes custodial wallet behavior.
type WalletConfig struct {
	// CollectCapMsat caps what a single tap may credit. Zero means the
	// full available amount.
	CollectCapMsat int64
	// PayTimeout bounds the synchronous wait for the payer.
	PayTimeout time.Duration
	// PendingGrace is how old a pending custodial withdraw must be before
	// the sweep reconciles it.
	PendingGrace time.Duration
	// SweepBatch caps withdraws reconciled per sweep pass.
	SweepBatch int
}

// WalletServiceImpl implements ports.WalletService. A user's balance is
// never stored; it is the signed sum of the user's transaction rows,
// computed under the user row lock.
type WalletServiceImpl struct {
	tagAuth    ports.TagAuthService
	ledger     ports.LedgerService
	userRepo   ports.UserRepository
	payer      ports.PayerService
	resolver   invoiceResolver
	transactor ports.DBTransactor
	cfg        WalletConfig
	metrics    *metrics.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(
	tagAuth ports.TagAuthService,
	ledger ports.LedgerService,
	userRepo ports.UserRepository,
	payer ports.PayerService,
	resolver invoiceResolver,
	transactor ports.DBTransactor,
	cfg WalletConfig,
	m *metrics.Metrics,
	log zerolog.Logger,
) *WalletServiceImpl {
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	return &WalletServiceImpl{
		tagAuth:    tagAuth,
		ledger:     ledger,
		userRepo:   userRepo,
		payer:      payer,
		resolver:   resolver,
		transactor: transactor,
		cfg:        cfg,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// Collect verifies a tap and moves the available reward from the location
// pool into the user's custodial balance instead of paying an invoice. The
// pool side reuses the reserve and commit path so the claim ledger stays
// the single source of truth for pool debits.
func (s *WalletServiceImpl) Collect(ctx context.Context, userID, cardID uuid.UUID, piccHex, cmacHex string) (*domain.UserTransaction, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	tap, err := s.tagAuth.VerifyTap(ctx, cardID, piccHex, cmacHex)
	if err != nil {
		return nil, err
	}

	available, err := s.ledger.Available(ctx, tap.Location.ID)
	if err != nil {
		return nil, err
	}
	amount := available
	if s.cfg.CollectCapMsat > 0 && amount > s.cfg.CollectCapMsat {
		amount = s.cfg.CollectCapMsat
	}
	if amount <= 0 {
		return nil, apperror.ErrInsufficientFunds()
	}

	// Internal reference in place of a bolt11 invoice. It keeps the
	// duplicate guard on (claimant, invoice) meaningful for collects.
	ref := fmt.Sprintf("collect:%s:%s", userID, uuid.NewString())
	w, err := s.ledger.Reserve(ctx, ports.ReserveRequest{
		LocationID: tap.Location.ID,
		ClaimantID: tap.Card.ID,
		ScanID:     &tap.Scan.ID,
		Invoice:    ref,
		AmountMsat: amount,
	})
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Commit(ctx, w.ID, ref); err != nil {
		return nil, err
	}

	utx, err := s.appendCredit(ctx, user.ID, amount, domain.UserTransactionTypeCollect, &tap.Location.ID, nil)
	if err != nil {
		// The pool claim is already final. Surface the error loudly so
		// the operator can credit the user by hand.
		s.log.Error().Err(err).
			Str("user_id", userID.String()).
			Str("withdrawal_id", w.ID.String()).
			Int64("amount_msat", amount).
			Msg("pool claimed but user credit failed")
		return nil, err
	}

	s.metrics.WithdrawalCommitted(amount)
	s.log.Info().
		Str("user_id", userID.String()).
		Str("location_id", tap.Location.ID.String()).
		Int64("amount_msat", amount).
		Msg("reward collected to balance")
	return utx, nil
}

// Balance returns the user's custodial balance in msat, computed as the
// signed sum of the user's transaction rows.
func (s *WalletServiceImpl) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return 0, apperror.ErrDatabaseError(err)
	}
	if user == nil {
		return 0, apperror.ErrNotFound("User")
	}

	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return 0, apperror.ErrDatabaseError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	balance, err := s.userRepo.SumTransactions(ctx, tx, userID)
	if err != nil {
		return 0, apperror.ErrDatabaseError(err)
	}
	return balance, nil
}

// Withdraw pays a bolt11 invoice from the custodial balance. The WITHDRAW
// entry is appended as PENDING before the payer is called; a failed
// payment is compensated by a REFUND entry, a pending one is left for the
// sweep to resolve.
func (s *WalletServiceImpl) Withdraw(ctx context.Context, userID uuid.UUID, invoice string) (*domain.UserTransaction, error) {
	amount, err := invoiceAmountMsat(invoice)
	if err != nil {
		return nil, err
	}

	utx, err := s.beginWithdraw(ctx, userID, amount, invoice)
	if err != nil {
		return nil, err
	}

	payCtx := ctx
	if s.cfg.PayTimeout > 0 {
		var cancel context.CancelFunc
		payCtx, cancel = context.WithTimeout(ctx, s.cfg.PayTimeout)
		defer cancel()
	}
	start := s.now()
	result, payErr := s.payer.PayInvoice(payCtx, invoice)
	s.metrics.ObservePayer("pay_invoice", s.now().Sub(start))

	if payErr != nil || result.State == ports.PaymentStateFailed {
		reason := "payment failed"
		if payErr != nil {
			reason = payErr.Error()
		} else if result.FailReason != "" {
			reason = result.FailReason
		}
		if failErr := s.failWithdraw(ctx, utx, nil); failErr != nil {
			s.log.Error().Err(failErr).Str("user_id", userID.String()).Int64("amount_msat", amount).Msg("refund after failed withdraw failed")
		}
		return nil, apperror.ErrPaymentFailed(fmt.Errorf("%s", reason))
	}

	switch result.State {
	case ports.PaymentStateSucceeded:
		if err := s.markWithdrawStatus(ctx, utx, domain.UserTransactionStatusCompleted, result.PaymentHash); err != nil {
			s.log.Error().Err(err).Str("transaction_id", utx.ID.String()).Msg("mark withdraw completed failed")
		}
	default:
		// In flight. Keep the entry PENDING with the hash so the sweep
		// can resolve it; the balance already counts the debit.
		if err := s.markWithdrawStatus(ctx, utx, domain.UserTransactionStatusPending, result.PaymentHash); err != nil {
			s.log.Error().Err(err).Str("transaction_id", utx.ID.String()).Msg("persist payment hash failed")
		}
	}

	s.log.Info().
		Str("user_id", userID.String()).
		Int64("amount_msat", amount).
		Str("state", string(result.State)).
		Msg("balance withdrawal submitted")
	return utx, nil
}

// WithdrawToAddress resolves a Lightning address into an invoice and pays
// it from the custodial balance.
func (s *WalletServiceImpl) WithdrawToAddress(ctx context.Context, userID uuid.UUID, address string, amountMsat int64) (*domain.UserTransaction, error) {
	if amountMsat <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	invoice, err := s.resolver.Resolve(ctx, address, amountMsat)
	if err != nil {
		return nil, apperror.ErrPaymentFailed(fmt.Errorf("resolve %s: %w", address, err))
	}
	return s.Withdraw(ctx, userID, invoice)
}

// ListTransactions returns the user's custodial ledger, newest first.
func (s *WalletServiceImpl) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.UserTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	txs, err := s.userRepo.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return txs, nil
}

// Sweep reconciles stale pending custodial withdraws against the payer.
// Entries with a known payment hash resolve by its final state; entries
// that never reached the payer are refunded.
func (s *WalletServiceImpl) Sweep(ctx context.Context) error {
	start := s.now()
	defer func() { s.metrics.ObserveSweep(s.now().Sub(start)) }()

	cutoff := s.now().Add(-s.cfg.PendingGrace)
	stale, err := s.userRepo.ListStalePendingWithdraws(ctx, cutoff, s.cfg.SweepBatch)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("list stale pending withdraws: %w", err))
	}

	for i := range stale {
		utx := &stale[i]
		if err := s.reconcileWithdraw(ctx, utx); err != nil {
			s.log.Error().Err(err).Str("transaction_id", utx.ID.String()).Msg("reconcile custodial withdraw failed")
		}
	}
	return nil
}

func (s *WalletServiceImpl) reconcileWithdraw(ctx context.Context, utx *domain.UserTransaction) error {
	if utx.PaymentHash == nil || *utx.PaymentHash == "" {
		return s.failWithdraw(ctx, utx, nil)
	}

	result, err := s.payer.CheckPayment(ctx, *utx.PaymentHash)
	if err != nil {
		return fmt.Errorf("check payment: %w", err)
	}

	switch result.State {
	case ports.PaymentStateSucceeded:
		return s.markWithdrawStatus(ctx, utx, domain.UserTransactionStatusCompleted, *utx.PaymentHash)
	case ports.PaymentStateFailed:
		return s.failWithdraw(ctx, utx, utx.PaymentHash)
	default:
		// Still in flight, try again next sweep.
		return nil
	}
}

func (s *WalletServiceImpl) activeUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if user == nil {
		return nil, apperror.ErrNotFound("User")
	}
	if !user.IsActive() {
		return nil, apperror.Validation("account is disabled")
	}
	return user, nil
}

// beginWithdraw appends a PENDING WITHDRAW entry under the user row lock.
// The entry counts against the balance from this moment on.
func (s *WalletServiceImpl) beginWithdraw(ctx context.Context, userID uuid.UUID, amount int64, invoice string) (*domain.UserTransaction, error) {
	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	user, err := s.userRepo.GetByIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if user == nil {
		return nil, apperror.ErrNotFound("User")
	}
	if !user.IsActive() {
		return nil, apperror.Validation("account is disabled")
	}

	balance, err := s.userRepo.SumTransactions(ctx, tx, userID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if balance < amount {
		return nil, apperror.ErrInsufficientFunds()
	}

	utx := &domain.UserTransaction{
		ID:         uuid.New(),
		UserID:     userID,
		Type:       domain.UserTransactionTypeWithdraw,
		AmountMsat: amount,
		Status:     domain.UserTransactionStatusPending,
		Invoice:    &invoice,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.userRepo.CreateTransaction(ctx, tx, utx); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return utx, nil
}

// appendCredit inserts a COMPLETED credit entry under the user row lock.
func (s *WalletServiceImpl) appendCredit(ctx context.Context, userID uuid.UUID, amount int64, txType domain.UserTransactionType, locationID *uuid.UUID, invoice *string) (*domain.UserTransaction, error) {
	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	user, err := s.userRepo.GetByIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if user == nil {
		return nil, apperror.ErrNotFound("User")
	}

	utx := &domain.UserTransaction{
		ID:         uuid.New(),
		UserID:     userID,
		Type:       txType,
		AmountMsat: amount,
		Status:     domain.UserTransactionStatusCompleted,
		LocationID: locationID,
		Invoice:    invoice,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.userRepo.CreateTransaction(ctx, tx, utx); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return utx, nil
}

// markWithdrawStatus records the payer outcome on a WITHDRAW entry.
func (s *WalletServiceImpl) markWithdrawStatus(ctx context.Context, utx *domain.UserTransaction, status domain.UserTransactionStatus, paymentHash string) error {
	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var hash *string
	if paymentHash != "" {
		hash = &paymentHash
	}
	if err := s.userRepo.MarkTransactionStatus(ctx, tx, utx.ID, status, hash); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	utx.Status = status
	if hash != nil {
		utx.PaymentHash = hash
	}
	return nil
}

// failWithdraw marks the WITHDRAW entry FAILED and appends the
// compensating REFUND entry in the same transaction, under the user row
// lock. The balance never reflects one without the other.
func (s *WalletServiceImpl) failWithdraw(ctx context.Context, utx *domain.UserTransaction, paymentHash *string) error {
	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	user, err := s.userRepo.GetByIDForUpdate(ctx, tx, utx.UserID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %s disappeared during refund", utx.UserID)
	}

	if err := s.userRepo.MarkTransactionStatus(ctx, tx, utx.ID, domain.UserTransactionStatusFailed, paymentHash); err != nil {
		return err
	}
	refund := &domain.UserTransaction{
		ID:         uuid.New(),
		UserID:     utx.UserID,
		Type:       domain.UserTransactionTypeRefund,
		AmountMsat: utx.AmountMsat,
		Status:     domain.UserTransactionStatusCompleted,
		Invoice:    utx.Invoice,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.userRepo.CreateTransaction(ctx, tx, refund); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	utx.Status = domain.UserTransactionStatusFailed

	s.log.Info().
		Str("user_id", utx.UserID.String()).
		Str("transaction_id", utx.ID.String()).
		Int64("amount_msat", utx.AmountMsat).
		Msg("failed withdraw refunded")
	return nil
}
