package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"satshunt/internal/core/domain"
	"satshunt/internal/core/ports"
	"satshunt/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type donationTestDeps struct {
	svc          *DonationServiceImpl
	donationRepo *mocks.MockDonationRepository
	locationRepo *mocks.MockLocationRepository
	ledger       *mocks.MockLedgerService
	payer        *mocks.MockPayerService
	transactor   *mocks.MockDBTransactor
	ctrl         *gomock.Controller
}

func setupDonationService(t *testing.T) *donationTestDeps {
	ctrl := gomock.NewController(t)
	d := &donationTestDeps{
		donationRepo: mocks.NewMockDonationRepository(ctrl),
		locationRepo: mocks.NewMockLocationRepository(ctrl),
		ledger:       mocks.NewMockLedgerService(ctrl),
		payer:        mocks.NewMockPayerService(ctrl),
		transactor:   mocks.NewMockDBTransactor(ctrl),
		ctrl:         ctrl,
	}
	d.svc = NewDonationService(
		d.donationRepo, d.locationRepo, d.ledger, d.payer, d.transactor,
		DonationConfig{InvoiceTTL: time.Hour, MaxAmountMsat: 1_000_000_000},
		nil, zerolog.Nop(),
	)
	return d
}

func openDonation(expiresAt time.Time) domain.Donation {
	locationID := uuid.New()
	return domain.Donation{
		ID:          uuid.New(),
		LocationID:  &locationID,
		AmountMsat:  5_000_000,
		Invoice:     "lnbc50u1x",
		PaymentHash: "hash-" + uuid.NewString(),
		Status:      domain.DonationStatusCreated,
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
		ExpiresAt:   expiresAt,
	}
}

func activeLocation(name string, createdAt time.Time) domain.Location {
	return domain.Location{
		ID:        uuid.New(),
		Name:      name,
		Status:    domain.LocationStatusActive,
		CreatedAt: createdAt,
	}
}

func TestDonationService_CreateDonation_Success(t *testing.T) {
	d := setupDonationService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := &domain.Location{ID: uuid.New(), Name: "harbor bench", Status: domain.LocationStatusActive}
	donor := "alice"
	expiry := time.Now().UTC().Add(time.Hour)

	d.locationRepo.EXPECT().GetByID(ctx, location.ID).Return(location, nil)
	d.payer.EXPECT().CreateInvoice(ctx, int64(5_000_000), "satshunt donation: harbor bench", time.Hour).Return(&ports.Invoice{
		PaymentRequest: "lnbc50u1x",
		PaymentHash:    "hash123",
		ExpiresAt:      expiry,
	}, nil)
	d.donationRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, donation *domain.Donation) error {
			require.NotNil(t, donation.LocationID)
			assert.Equal(t, location.ID, *donation.LocationID)
			assert.Equal(t, int64(5_000_000), donation.AmountMsat)
			assert.Equal(t, "lnbc50u1x", donation.Invoice)
			assert.Equal(t, "hash123", donation.PaymentHash)
			assert.Equal(t, domain.DonationStatusCreated, donation.Status)
			assert.Equal(t, expiry, donation.ExpiresAt)
			require.NotNil(t, donation.DonorName)
			assert.Equal(t, "alice", *donation.DonorName)
			return nil
		})

	donation, err := d.svc.CreateDonation(ctx, ports.CreateDonationRequest{
		LocationID: &location.ID,
		AmountMsat: 5_000_000,
		DonorName:  &donor,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DonationStatusCreated, donation.Status)
}

func TestDonationService_CreateDonation_GlobalPool(t *testing.T) {
	d := setupDonationService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()

	// No location lookup happens for a global donation.
	d.payer.EXPECT().CreateInvoice(ctx, int64(5_000_000), "satshunt donation: global pool", time.Hour).Return(&ports.Invoice{
		PaymentRequest: "lnbc50u1x",
		PaymentHash:    "hash123",
		ExpiresAt:      time.Now().UTC().Add(time.Hour),
	}, nil)
	d.donationRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, donation *domain.Donation) error {
			assert.Nil(t, donation.LocationID)
			return nil
		})

	donation, err := d.svc.CreateDonation(ctx, ports.CreateDonationRequest{
		AmountMsat: 5_000_000,
	})
	require.NoError(t, err)
	assert.Nil(t, donation.LocationID)
}

func TestDonationService_CreateDonation_InvalidAmount(t *testing.T) {
	d := setupDonationService(t)
	defer d.ctrl.Finish()

	id := uuid.New()
	_, err := d.svc.CreateDonation(context.Background(), ports.CreateDonationRequest{
		LocationID: &id,
		AmountMsat: 0,
	})
	assertAppErrorCode(t, err, "LED_002")
}

func TestDonationService_CreateDonation_AmountCap(t *testing.T) {
	d := setupDonationService(t)
	defer d.ctrl.Finish()

	id := uuid.New()
	_, err := d.svc.CreateDonation(context.Background(), ports.CreateDonationRequest{
		LocationID: &id,
		AmountMsat: 2_000_000_000,
	})
	assertAppErrorCode(t, err, "LED_002")
}

func TestDonationService_CreateDonation_LocationNotActive(t *testing.T) {
	d := setupDonationService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := &domain.Location{ID: uuid.New(), Status: domain.LocationStatusRetired}

	d.locationRepo.EXPECT().GetByID(ctx, location.ID).Return(location, nil)

	_, err := d.svc.CreateDonation(ctx, ports.CreateDonationRequest{
		LocationID: &location.ID,
		AmountMsat: 1_000_000,
	})
	assertAppErrorCode(t, err, "LED_003")
}

func TestDonationService_CreateDonation_PayerDown(t *testing.T) {
	d := setupDonationService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := &domain.Location{ID: uuid.New(), Name: "pier", Status: domain.LocationStatusActive}

	d.locationRepo.EXPECT().GetByID(ctx, location.ID).Return(location, nil)
	d.payer.EXPECT().CreateInvoice(ctx, gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, fmt.Errorf("connection refused"))

	_, err := d.svc.CreateDonation(ctx, ports.CreateDonationRequest{
		LocationID: &location.ID,
		AmountMsat: 1_000_000,
	})
	assertAppErrorCode(t, err, "PAY_001")
}

func TestDonationService_GetDonation_NotFound(t *testing.T) {
	d := setupDonationService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	d.donationRepo.EXPECT().GetByID(ctx, id).Return(nil, nil)

	_, err := d.svc.GetDonation(ctx, id)
	assertAppErrorCode(t, err, "LED_005")
}

func TestDonationService_Poll_SettledCreditsPool(t *testing.T) {
	d := setupDonationService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	donation := openDonation(time.Now().UTC().Add(time.Hour))

	d.donationRepo.EXPECT().ListOpen(ctx, 100).Return([]domain.Donation{donation}, nil)
	d.payer.EXPECT().CheckInvoice(ctx, donation.PaymentHash).Return(true, nil)

	// The pool credit and the status flip share one transaction.
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.ledger.EXPECT().CreditInTx(ctx, gomock.Any(), *donation.LocationID, donation.AmountMsat, domain.CreditSourceDonation, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ interface{}, _ uuid.UUID, _ int64, _ domain.CreditSource, donationID *uuid.UUID) error {
			require.NotNil(t, donationID)
			assert.Equal(t, donation.ID, *donationID)
			return nil
		})
	locked := donation
	d.donationRepo.EXPECT().GetByIDForUpdate(ctx, gomock.Any(), donation.ID).Return(&locked, nil)
	d.donationRepo.EXPECT().UpdateStatus(ctx, gomock.Any(), donation.ID, domain.DonationStatusReceived, gomock.Any()).Return(nil)

	require.NoError(t, d.svc.Poll(ctx))
}

func TestDonationService_Poll_GlobalSplitsAcrossActiveLocations(t *testing.T) {
	d := setupDonationService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	donation := openDonation(time.Now().UTC().Add(time.Hour))
	donation.LocationID = nil
	donation.AmountMsat = 10_000_001

	base := time.Now().UTC().Add(-48 * time.Hour)
	oldest := activeLocation("first", base)
	second := activeLocation("second", base.Add(time.Hour))
	third := activeLocation("third", base.Add(2*time.Hour))
	paused := activeLocation("paused", base)
	paused.Status = domain.LocationStatusPaused

	d.donationRepo.EXPECT().ListOpen(ctx, 100).Return([]domain.Donation{donation}, nil)
	d.payer.EXPECT().CheckInvoice(ctx, donation.PaymentHash).Return(true, nil)
	d.locationRepo.EXPECT().List(ctx).Return([]domain.Location{third, paused, oldest, second}, nil)

	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	credited := map[uuid.UUID]int64{}
	d.ledger.EXPECT().CreditInTx(ctx, gomock.Any(), gomock.Any(), gomock.Any(), domain.CreditSourceDonation, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ interface{}, locationID uuid.UUID, amountMsat int64, _ domain.CreditSource, _ *uuid.UUID) error {
			credited[locationID] = amountMsat
			return nil
		}).Times(3)
	locked := donation
	d.donationRepo.EXPECT().GetByIDForUpdate(ctx, gomock.Any(), donation.ID).Return(&locked, nil)
	d.donationRepo.EXPECT().UpdateStatus(ctx, gomock.Any(), donation.ID, domain.DonationStatusReceived, gomock.Any()).Return(nil)

	require.NoError(t, d.svc.Poll(ctx))

	// 10,000,001 over three active locations: even split, remainder to
	// the oldest, paused location skipped.
	assert.Equal(t, int64(3_333_335), credited[oldest.ID])
	assert.Equal(t, int64(3_333_333), credited[second.ID])
	assert.Equal(t, int64(3_333_333), credited[third.ID])
	var total int64
	for _, v := range credited {
		total += v
	}
	assert.Equal(t, donation.AmountMsat, total)
}

func TestDonationService_Poll_GlobalWithNoActiveLocationsDefers(t *testing.T) {
	d := setupDonationService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	donation := openDonation(time.Now().UTC().Add(time.Hour))
	donation.LocationID = nil

	retired := activeLocation("gone", time.Now().UTC())
	retired.Status = domain.LocationStatusRetired

	d.donationRepo.EXPECT().ListOpen(ctx, 100).Return([]domain.Donation{donation}, nil)
	d.payer.EXPECT().CheckInvoice(ctx, donation.PaymentHash).Return(true, nil)
	d.locationRepo.EXPECT().List(ctx).Return([]domain.Location{retired}, nil)

	// No transaction, no credit, no status change: the donation stays
	// open for the next poll.
	require.NoError(t, d.svc.Poll(ctx))
}

func TestDonationService_Poll_AlreadySettledIsNoop(t *testing.T) {
	d := setupDonationService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	donation := openDonation(time.Now().UTC().Add(time.Hour))

	d.donationRepo.EXPECT().ListOpen(ctx, 100).Return([]domain.Donation{donation}, nil)
	d.payer.EXPECT().CheckInvoice(ctx, donation.PaymentHash).Return(true, nil)

	// Under the lock the donation is already RECEIVED: the rollback
	// discards the credit written earlier in the transaction.
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.ledger.EXPECT().CreditInTx(ctx, gomock.Any(), *donation.LocationID, donation.AmountMsat, domain.CreditSourceDonation, gomock.Any()).Return(nil)
	locked := donation
	locked.Status = domain.DonationStatusReceived
	d.donationRepo.EXPECT().GetByIDForUpdate(ctx, gomock.Any(), donation.ID).Return(&locked, nil)

	require.NoError(t, d.svc.Poll(ctx))
}

func TestDonationService_Poll_ExpiredTimesOut(t *testing.T) {
	d := setupDonationService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	donation := openDonation(time.Now().UTC().Add(-time.Minute))

	d.donationRepo.EXPECT().ListOpen(ctx, 100).Return([]domain.Donation{donation}, nil)
	d.payer.EXPECT().CheckInvoice(ctx, donation.PaymentHash).Return(false, nil)

	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	locked := donation
	d.donationRepo.EXPECT().GetByIDForUpdate(ctx, gomock.Any(), donation.ID).Return(&locked, nil)
	d.donationRepo.EXPECT().UpdateStatus(ctx, gomock.Any(), donation.ID, domain.DonationStatusTimedOut, nil).Return(nil)

	require.NoError(t, d.svc.Poll(ctx))
}

func TestDonationService_Poll_UnsettledUnexpiredUntouched(t *testing.T) {
	d := setupDonationService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	donation := openDonation(time.Now().UTC().Add(time.Hour))

	d.donationRepo.EXPECT().ListOpen(ctx, 100).Return([]domain.Donation{donation}, nil)
	d.payer.EXPECT().CheckInvoice(ctx, donation.PaymentHash).Return(false, nil)

	require.NoError(t, d.svc.Poll(ctx))
}

func TestDonationService_Poll_PayerErrorSkipsRow(t *testing.T) {
	d := setupDonationService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	broken := openDonation(time.Now().UTC().Add(time.Hour))
	healthy := openDonation(time.Now().UTC().Add(time.Hour))

	d.donationRepo.EXPECT().ListOpen(ctx, 100).Return([]domain.Donation{broken, healthy}, nil)
	d.payer.EXPECT().CheckInvoice(ctx, broken.PaymentHash).Return(false, fmt.Errorf("timeout"))
	d.payer.EXPECT().CheckInvoice(ctx, healthy.PaymentHash).Return(false, nil)

	require.NoError(t, d.svc.Poll(ctx))
}

func TestSplitShares(t *testing.T) {
	base := time.Now().UTC().Add(-time.Hour)
	oldest := activeLocation("a", base)
	newer := activeLocation("b", base.Add(time.Minute))

	t.Run("even", func(t *testing.T) {
		shares := splitShares(10_000, []domain.Location{newer, oldest})
		require.Len(t, shares, 2)
		assert.Equal(t, oldest.ID, shares[0].locationID)
		assert.Equal(t, int64(5_000), shares[0].amountMsat)
		assert.Equal(t, int64(5_000), shares[1].amountMsat)
	})

	t.Run("remainder to oldest", func(t *testing.T) {
		shares := splitShares(10_001, []domain.Location{newer, oldest})
		require.Len(t, shares, 2)
		assert.Equal(t, oldest.ID, shares[0].locationID)
		assert.Equal(t, int64(5_001), shares[0].amountMsat)
		assert.Equal(t, int64(5_000), shares[1].amountMsat)
	})

	t.Run("amount smaller than location count", func(t *testing.T) {
		third := activeLocation("c", base.Add(2*time.Minute))
		shares := splitShares(2, []domain.Location{newer, oldest, third})
		require.Len(t, shares, 1)
		assert.Equal(t, oldest.ID, shares[0].locationID)
		assert.Equal(t, int64(2), shares[0].amountMsat)
	})
}
