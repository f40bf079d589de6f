package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"satshunt/internal/core/domain"
	"satshunt/internal/core/ports"
	"satshunt/pkg/apperror"
	"satshunt/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DonationConfig tunes donation invoicing and settlement polling.
type DonationConfig struct {
	// InvoiceTTL is how long a donation invoice stays payable.
	InvoiceTTL time.Duration
	// PollBatch caps open donations checked per Poll pass.
	PollBatch int
	// MaxAmountMsat rejects absurd donation amounts. Zero disables the cap.
	MaxAmountMsat int64
}

// DonationServiceImpl implements ports.DonationService.
type DonationServiceImpl struct {
	donationRepo ports.DonationRepository
	locationRepo ports.LocationRepository
	ledger       ports.LedgerService
	payer        ports.PayerService
	transactor   ports.DBTransactor
	cfg          DonationConfig
	metrics      *metrics.Metrics
	log          zerolog.Logger
	now          func() time.Time
}

// NewDonationService creates a new DonationServiceImpl.
func NewDonationService(
	donationRepo ports.DonationRepository,
	locationRepo ports.LocationRepository,
	ledger ports.LedgerService,
	payer ports.PayerService,
	transactor ports.DBTransactor,
	cfg DonationConfig,
	m *metrics.Metrics,
	log zerolog.Logger,
) *DonationServiceImpl {
	if cfg.InvoiceTTL <= 0 {
		cfg.InvoiceTTL = 24 * time.Hour
	}
	if cfg.PollBatch <= 0 {
		cfg.PollBatch = 100
	}
	return &DonationServiceImpl{
		donationRepo: donationRepo,
		locationRepo: locationRepo,
		ledger:       ledger,
		payer:        payer,
		transactor:   transactor,
		cfg:          cfg,
		metrics:      m,
		log:          log,
		now:          time.Now,
	}
}

// CreateDonation asks the payer for an invoice and records the donation.
// A nil location targets the shared global pool, which is split across
// active locations when the invoice settles. The pool is not credited
// until then.
func (s *DonationServiceImpl) CreateDonation(ctx context.Context, req ports.CreateDonationRequest) (*domain.Donation, error) {
	if req.AmountMsat <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if s.cfg.MaxAmountMsat > 0 && req.AmountMsat > s.cfg.MaxAmountMsat {
		return nil, apperror.Validation(fmt.Sprintf("donation amount exceeds %d msat", s.cfg.MaxAmountMsat))
	}

	memo := "satshunt donation: global pool"
	if req.LocationID != nil {
		location, err := s.locationRepo.GetByID(ctx, *req.LocationID)
		if err != nil {
			return nil, apperror.ErrDatabaseError(err)
		}
		if location == nil {
			return nil, apperror.ErrNotFound("Location")
		}
		if !location.IsActive() {
			return nil, apperror.ErrLocationNotActive()
		}
		memo = fmt.Sprintf("satshunt donation: %s", location.Name)
	}

	inv, err := s.payer.CreateInvoice(ctx, req.AmountMsat, memo, s.cfg.InvoiceTTL)
	if err != nil {
		s.metrics.DonationOutcome("invoice_error")
		return nil, apperror.ErrPaymentFailed(fmt.Errorf("create invoice: %w", err))
	}

	nowTime := s.now().UTC()
	donation := &domain.Donation{
		ID:          uuid.New(),
		LocationID:  req.LocationID,
		AmountMsat:  req.AmountMsat,
		Invoice:     inv.PaymentRequest,
		PaymentHash: inv.PaymentHash,
		DonorName:   req.DonorName,
		Comment:     req.Comment,
		Status:      domain.DonationStatusCreated,
		CreatedAt:   nowTime,
		ExpiresAt:   inv.ExpiresAt,
	}
	if donation.ExpiresAt.IsZero() {
		donation.ExpiresAt = nowTime.Add(s.cfg.InvoiceTTL)
	}
	if err := s.donationRepo.Create(ctx, donation); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	s.metrics.DonationOutcome("created")
	evt := s.log.Info().
		Str("donation_id", donation.ID.String()).
		Int64("amount_msat", req.AmountMsat)
	if req.LocationID != nil {
		evt = evt.Str("location_id", req.LocationID.String())
	}
	evt.Msg("donation invoice created")

	return donation, nil
}

// GetDonation returns a donation by ID.
func (s *DonationServiceImpl) GetDonation(ctx context.Context, id uuid.UUID) (*domain.Donation, error) {
	donation, err := s.donationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if donation == nil {
		return nil, apperror.ErrNotFound("Donation")
	}
	return donation, nil
}

// Poll runs one settlement pass: settled invoices credit the pool, expired
// ones time out. Each donation is settled in its own transaction under a
// row lock so a concurrent pass cannot credit twice.
func (s *DonationServiceImpl) Poll(ctx context.Context) error {
	open, err := s.donationRepo.ListOpen(ctx, s.cfg.PollBatch)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("list open donations: %w", err))
	}

	for i := range open {
		d := &open[i]
		if err := s.settleOne(ctx, d); err != nil {
			s.log.Error().Err(err).Str("donation_id", d.ID.String()).Msg("donation settle failed")
		}
	}
	return nil
}

func (s *DonationServiceImpl) settleOne(ctx context.Context, d *domain.Donation) error {
	settled, err := s.payer.CheckInvoice(ctx, d.PaymentHash)
	if err != nil {
		return fmt.Errorf("check invoice: %w", err)
	}

	if settled {
		return s.markReceived(ctx, d)
	}
	if s.now().UTC().After(d.ExpiresAt) {
		return s.markTimedOut(ctx, d.ID)
	}
	return nil
}

// donationShare is one location's cut of a settling donation.
type donationShare struct {
	locationID uuid.UUID
	amountMsat int64
}

// splitShares divides a global donation evenly across the active
// locations. The remainder goes to the oldest location so the shares
// always sum to the donated amount.
func splitShares(amountMsat int64, active []domain.Location) []donationShare {
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	n := int64(len(active))
	base := amountMsat / n
	remainder := amountMsat % n

	shares := make([]donationShare, 0, n)
	for i := range active {
		amount := base
		if i == 0 {
			amount += remainder
		}
		if amount > 0 {
			shares = append(shares, donationShare{locationID: active[i].ID, amountMsat: amount})
		}
	}
	return shares
}

func (s *DonationServiceImpl) markReceived(ctx context.Context, d *domain.Donation) error {
	var shares []donationShare
	if d.LocationID != nil {
		shares = []donationShare{{locationID: *d.LocationID, amountMsat: d.AmountMsat}}
	} else {
		locations, err := s.locationRepo.List(ctx)
		if err != nil {
			return fmt.Errorf("list locations: %w", err)
		}
		active := make([]domain.Location, 0, len(locations))
		for _, l := range locations {
			if l.IsActive() {
				active = append(active, l)
			}
		}
		if len(active) == 0 {
			// Nowhere to put the money yet. The donation stays open and
			// the next poll retries.
			s.log.Warn().Str("donation_id", d.ID.String()).Msg("settled global donation has no active locations, deferring")
			return nil
		}
		shares = splitShares(d.AmountMsat, active)
	}

	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Location rows are locked in a fixed order, and always before the
	// donation row.
	sort.Slice(shares, func(i, j int) bool {
		return shares[i].locationID.String() < shares[j].locationID.String()
	})
	for _, share := range shares {
		if err := s.ledger.CreditInTx(ctx, tx, share.locationID, share.amountMsat, domain.CreditSourceDonation, &d.ID); err != nil {
			s.metrics.DonationOutcome("credit_error")
			return fmt.Errorf("credit pool: %w", err)
		}
	}

	locked, err := s.donationRepo.GetByIDForUpdate(ctx, tx, d.ID)
	if err != nil {
		return fmt.Errorf("lock donation: %w", err)
	}
	if locked == nil || locked.IsTerminal() {
		// Another pass already settled it. Rolling back discards the
		// credits written above.
		return nil
	}

	receivedAt := s.now().UTC()
	if err := s.donationRepo.UpdateStatus(ctx, tx, d.ID, domain.DonationStatusReceived, &receivedAt); err != nil {
		return fmt.Errorf("mark received: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.metrics.DonationOutcome("received")
	s.log.Info().
		Str("donation_id", d.ID.String()).
		Int64("amount_msat", d.AmountMsat).
		Int("locations", len(shares)).
		Msg("donation settled, pool credited")
	return nil
}

func (s *DonationServiceImpl) markTimedOut(ctx context.Context, donationID uuid.UUID) error {
	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	locked, err := s.donationRepo.GetByIDForUpdate(ctx, tx, donationID)
	if err != nil {
		return fmt.Errorf("lock donation: %w", err)
	}
	if locked == nil || locked.IsTerminal() {
		return nil
	}

	if err := s.donationRepo.UpdateStatus(ctx, tx, donationID, domain.DonationStatusTimedOut, nil); err != nil {
		return fmt.Errorf("mark timed out: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.metrics.DonationOutcome("timed_out")
	s.log.Info().Str("donation_id", donationID.String()).Msg("donation invoice expired")
	return nil
}
