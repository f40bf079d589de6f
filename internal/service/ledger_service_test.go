package service

import (
	"context"
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

type ledgerTestDeps struct {
	svc            *LedgerServiceImpl
	locationRepo   *mocks.MockLocationRepository
	ledgerRepo     *mocks.MockLedgerRepository
	withdrawalRepo *mocks.MockWithdrawalRepository
	scanRepo       *mocks.MockScanRepository
	transactor     *mocks.MockDBTransactor
	ctrl           *gomock.Controller
}

func setupLedgerService(t *testing.T, timeToFull time.Duration) *ledgerTestDeps {
	ctrl := gomock.NewController(t)
	d := &ledgerTestDeps{
		locationRepo:   mocks.NewMockLocationRepository(ctrl),
		ledgerRepo:     mocks.NewMockLedgerRepository(ctrl),
		withdrawalRepo: mocks.NewMockWithdrawalRepository(ctrl),
		scanRepo:       mocks.NewMockScanRepository(ctrl),
		transactor:     mocks.NewMockDBTransactor(ctrl),
		ctrl:           ctrl,
	}
	d.svc = NewLedgerService(
		d.locationRepo, d.ledgerRepo, d.withdrawalRepo, d.scanRepo,
		d.transactor, timeToFull, nil, zerolog.Nop(),
	)
	return d
}

func activeLocationWithCapacity(capacity int64) *domain.Location {
	return &domain.Location{
		ID:             uuid.New(),
		Name:           "old oak",
		MaxCapacityMsat: capacity,
		Status:         domain.LocationStatusActive,
	}
}

func TestLedgerService_FillRatio(t *testing.T) {
	d := setupLedgerService(t, 100*time.Hour)
	defer d.ctrl.Finish()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d.svc.now = func() time.Time { return now }

	refill := now.Add(-50 * time.Hour)
	withdraw := now.Add(-25 * time.Hour)
	longAgo := now.Add(-500 * time.Hour)

	tests := []struct {
		name     string
		location *domain.Location
		expected float64
	}{
		{"virgin pool is fully available", &domain.Location{}, 1.0},
		{"half way after refill", &domain.Location{LastRefillAt: &refill}, 0.5},
		{"withdrawal restarts the clock", &domain.Location{LastRefillAt: &refill, LastWithdrawAt: &withdraw}, 0.25},
		{"old refill saturates at one", &domain.Location{LastRefillAt: &longAgo}, 1.0},
		{"recent withdrawal only", &domain.Location{LastWithdrawAt: &withdraw}, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, d.svc.fillRatio(tt.location), 1e-9)
		})
	}
}

func TestLedgerService_FillRatio_ThrottleDisabled(t *testing.T) {
	d := setupLedgerService(t, 0)
	defer d.ctrl.Finish()

	recent := time.Now()
	assert.Equal(t, 1.0, d.svc.fillRatio(&domain.Location{LastWithdrawAt: &recent}))
}

func TestLedgerService_PoolBalance(t *testing.T) {
	d := setupLedgerService(t, time.Hour)
	defer d.ctrl.Finish()

	ctx := context.Background()
	locationID := uuid.New()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.ledgerRepo.EXPECT().SumCredits(ctx, tx, locationID).Return(int64(50_000), nil)
	d.ledgerRepo.EXPECT().SumClaims(ctx, tx, locationID).Return(int64(12_000), nil)

	balance, err := d.svc.PoolBalance(ctx, locationID)
	require.NoError(t, err)
	assert.Equal(t, int64(38_000), balance)
}

func TestLedgerService_Available_CapsAndPending(t *testing.T) {
	d := setupLedgerService(t, time.Hour)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := activeLocationWithCapacity(10_000)
	// Fully filled pool.
	past := time.Now().Add(-2 * time.Hour)
	location.LastRefillAt = &past
	tx := &mockTx{}

	d.locationRepo.EXPECT().GetByID(ctx, location.ID).Return(location, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	// Pool is 50k but capacity caps it at 10k; 3k is reserved.
	d.ledgerRepo.EXPECT().SumCredits(ctx, tx, location.ID).Return(int64(60_000), nil)
	d.ledgerRepo.EXPECT().SumClaims(ctx, tx, location.ID).Return(int64(10_000), nil)
	d.withdrawalRepo.EXPECT().SumPending(ctx, tx, location.ID).Return(int64(3_000), nil)

	available, err := d.svc.Available(ctx, location.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7_000), available)
}

func TestLedgerService_Available_NeverNegative(t *testing.T) {
	d := setupLedgerService(t, time.Hour)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := activeLocationWithCapacity(10_000)
	tx := &mockTx{}

	d.locationRepo.EXPECT().GetByID(ctx, location.ID).Return(location, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.ledgerRepo.EXPECT().SumCredits(ctx, tx, location.ID).Return(int64(1_000), nil)
	d.ledgerRepo.EXPECT().SumClaims(ctx, tx, location.ID).Return(int64(0), nil)
	d.withdrawalRepo.EXPECT().SumPending(ctx, tx, location.ID).Return(int64(5_000), nil)

	available, err := d.svc.Available(ctx, location.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), available)
}

func TestLedgerService_Reserve_Success(t *testing.T) {
	d := setupLedgerService(t, time.Hour)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := activeLocationWithCapacity(10_000)
	claimant := uuid.New()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.locationRepo.EXPECT().GetByIDForUpdate(ctx, tx, location.ID).Return(location, nil)
	d.ledgerRepo.EXPECT().SumCredits(ctx, tx, location.ID).Return(int64(10_000), nil)
	d.ledgerRepo.EXPECT().SumClaims(ctx, tx, location.ID).Return(int64(0), nil)
	d.withdrawalRepo.EXPECT().SumPending(ctx, tx, location.ID).Return(int64(0), nil)

	_, err := d.svc.Reserve(ctx, ports.ReserveRequest{
		LocationID: location.ID,
		ClaimantID: claimant,
		Invoice:    "lnbc210u1x",
		AmountMsat: 21_000,
	})
	// 21k msat exceeds the 10k pool.
	assertAppErrorCode(t, err, "LED_001")

	// Retry with an amount that fits.
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.locationRepo.EXPECT().GetByIDForUpdate(ctx, tx, location.ID).Return(location, nil)
	d.ledgerRepo.EXPECT().SumCredits(ctx, tx, location.ID).Return(int64(10_000), nil)
	d.ledgerRepo.EXPECT().SumClaims(ctx, tx, location.ID).Return(int64(0), nil)
	d.withdrawalRepo.EXPECT().SumPending(ctx, tx, location.ID).Return(int64(0), nil)
	d.withdrawalRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)

	w2, err := d.svc.Reserve(ctx, ports.ReserveRequest{
		LocationID: location.ID,
		ClaimantID: claimant,
		Invoice:    "lnbc50u1x",
		AmountMsat: 5_000,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusPending, w2.Status)
	assert.Equal(t, int64(5_000), w2.AmountMsat)
}

func TestLedgerService_Reserve_InvalidAmount(t *testing.T) {
	d := setupLedgerService(t, time.Hour)
	defer d.ctrl.Finish()

	_, err := d.svc.Reserve(context.Background(), ports.ReserveRequest{AmountMsat: 0})
	assertAppErrorCode(t, err, "LED_002")

	_, err = d.svc.Reserve(context.Background(), ports.ReserveRequest{AmountMsat: -5})
	assertAppErrorCode(t, err, "LED_002")
}

func TestLedgerService_Reserve_PausedLocation(t *testing.T) {
	d := setupLedgerService(t, time.Hour)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := activeLocationWithCapacity(10_000)
	location.Status = domain.LocationStatusPaused
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.locationRepo.EXPECT().GetByIDForUpdate(ctx, tx, location.ID).Return(location, nil)

	_, err := d.svc.Reserve(ctx, ports.ReserveRequest{
		LocationID: location.ID,
		ClaimantID: uuid.New(),
		Invoice:    "lnbc10u1x",
		AmountMsat: 1_000,
	})
	assertAppErrorCode(t, err, "LED_003")
}

func TestLedgerService_Commit_Success(t *testing.T) {
	d := setupLedgerService(t, time.Hour)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := activeLocationWithCapacity(10_000)
	w := &domain.PendingWithdrawal{
		ID:         uuid.New(),
		LocationID: location.ID,
		ClaimantID: uuid.New(),
		AmountMsat: 2_100,
		Status:     domain.WithdrawalStatusPending,
	}
	tx := &mockTx{}

	d.withdrawalRepo.EXPECT().GetByID(ctx, w.ID).Return(w, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.locationRepo.EXPECT().GetByIDForUpdate(ctx, tx, location.ID).Return(location, nil)
	d.withdrawalRepo.EXPECT().GetByIDForUpdate(ctx, tx, w.ID).Return(w, nil)
	d.withdrawalRepo.EXPECT().MarkCompleted(ctx, tx, w.ID, "hash123").Return(nil)
	d.ledgerRepo.EXPECT().CreateClaim(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ any, claim *domain.Claim) error {
			assert.Equal(t, w.ID, claim.WithdrawalID)
			assert.Equal(t, int64(2_100), claim.AmountMsat)
			return nil
		})
	d.locationRepo.EXPECT().SetLastWithdrawAt(ctx, tx, location.ID, gomock.Any()).Return(nil)

	require.NoError(t, d.svc.Commit(ctx, w.ID, "hash123"))
}

func TestLedgerService_Commit_LinksScanToClaim(t *testing.T) {
	d := setupLedgerService(t, time.Hour)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := activeLocationWithCapacity(10_000)
	scanID := uuid.New()
	w := &domain.PendingWithdrawal{
		ID:         uuid.New(),
		LocationID: location.ID,
		ClaimantID: uuid.New(),
		ScanID:     &scanID,
		AmountMsat: 2_100,
		Status:     domain.WithdrawalStatusPending,
	}
	tx := &mockTx{}

	d.withdrawalRepo.EXPECT().GetByID(ctx, w.ID).Return(w, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.locationRepo.EXPECT().GetByIDForUpdate(ctx, tx, location.ID).Return(location, nil)
	d.withdrawalRepo.EXPECT().GetByIDForUpdate(ctx, tx, w.ID).Return(w, nil)
	d.withdrawalRepo.EXPECT().MarkCompleted(ctx, tx, w.ID, "hash123").Return(nil)

	var claimID uuid.UUID
	d.ledgerRepo.EXPECT().CreateClaim(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ any, claim *domain.Claim) error {
			claimID = claim.ID
			return nil
		})
	d.scanRepo.EXPECT().LinkClaim(ctx, tx, scanID, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ any, _ uuid.UUID, linked uuid.UUID) error {
			assert.Equal(t, claimID, linked)
			return nil
		})
	d.locationRepo.EXPECT().SetLastWithdrawAt(ctx, tx, location.ID, gomock.Any()).Return(nil)

	require.NoError(t, d.svc.Commit(ctx, w.ID, "hash123"))
}

func TestLedgerService_Commit_IdempotentOnCompleted(t *testing.T) {
	d := setupLedgerService(t, time.Hour)
	defer d.ctrl.Finish()

	ctx := context.Background()
	w := &domain.PendingWithdrawal{
		ID:     uuid.New(),
		Status: domain.WithdrawalStatusCompleted,
	}

	d.withdrawalRepo.EXPECT().GetByID(ctx, w.ID).Return(w, nil)

	// No transaction, no claim, no error.
	require.NoError(t, d.svc.Commit(ctx, w.ID, "hash123"))
}

func TestLedgerService_Commit_NotFound(t *testing.T) {
	d := setupLedgerService(t, time.Hour)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()

	d.withdrawalRepo.EXPECT().GetByID(ctx, id).Return(nil, nil)

	err := d.svc.Commit(ctx, id, "hash123")
	assertAppErrorCode(t, err, "LED_005")
}

func TestLedgerService_Release_Success(t *testing.T) {
	d := setupLedgerService(t, time.Hour)
	defer d.ctrl.Finish()

	ctx := context.Background()
	w := &domain.PendingWithdrawal{
		ID:     uuid.New(),
		Status: domain.WithdrawalStatusPending,
	}
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.withdrawalRepo.EXPECT().GetByIDForUpdate(ctx, tx, w.ID).Return(w, nil)
	d.withdrawalRepo.EXPECT().MarkFailed(ctx, tx, w.ID, "no route").Return(nil)

	require.NoError(t, d.svc.Release(ctx, w.ID, "no route"))
}

func TestLedgerService_Release_TerminalNoOp(t *testing.T) {
	d := setupLedgerService(t, time.Hour)
	defer d.ctrl.Finish()

	ctx := context.Background()
	w := &domain.PendingWithdrawal{
		ID:     uuid.New(),
		Status: domain.WithdrawalStatusCompleted,
	}
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.withdrawalRepo.EXPECT().GetByIDForUpdate(ctx, tx, w.ID).Return(w, nil)

	require.NoError(t, d.svc.Release(ctx, w.ID, "late failure"))
}

func TestLedgerService_AddCredit(t *testing.T) {
	d := setupLedgerService(t, time.Hour)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := activeLocationWithCapacity(10_000)
	donationID := uuid.New()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.locationRepo.EXPECT().GetByIDForUpdate(ctx, tx, location.ID).Return(location, nil)
	d.ledgerRepo.EXPECT().CreateCredit(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ any, credit *domain.PoolCredit) error {
			assert.Equal(t, int64(5_000), credit.AmountMsat)
			assert.Equal(t, domain.CreditSourceDonation, credit.Source)
			require.NotNil(t, credit.DonationID)
			assert.Equal(t, donationID, *credit.DonationID)
			return nil
		})
	d.locationRepo.EXPECT().SetLastRefillAt(ctx, tx, location.ID, gomock.Any()).Return(nil)

	require.NoError(t, d.svc.AddCredit(ctx, location.ID, 5_000, domain.CreditSourceDonation, &donationID))
}

func TestLedgerService_AddCredit_InvalidAmount(t *testing.T) {
	d := setupLedgerService(t, time.Hour)
	defer d.ctrl.Finish()

	err := d.svc.AddCredit(context.Background(), uuid.New(), 0, domain.CreditSourceManual, nil)
	assertAppErrorCode(t, err, "LED_002")
}
