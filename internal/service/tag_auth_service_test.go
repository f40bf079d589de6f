package service

import (
	"context"
	"testing"

	"satshunt/internal/core/domain"
	"satshunt/internal/core/ports/mocks"
	"satshunt/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type tagAuthTestDeps struct {
	svc          *TagAuthServiceImpl
	cardRepo     *mocks.MockCardRepository
	locationRepo *mocks.MockLocationRepository
	scanRepo     *mocks.MockScanRepository
	keySvc       *mocks.MockKeyService
	transactor   *mocks.MockDBTransactor
	ctrl         *gomock.Controller
}

func setupTagAuthService(t *testing.T) *tagAuthTestDeps {
	ctrl := gomock.NewController(t)
	d := &tagAuthTestDeps{
		cardRepo:     mocks.NewMockCardRepository(ctrl),
		locationRepo: mocks.NewMockLocationRepository(ctrl),
		scanRepo:     mocks.NewMockScanRepository(ctrl),
		keySvc:       mocks.NewMockKeyService(ctrl),
		transactor:   mocks.NewMockDBTransactor(ctrl),
		ctrl:         ctrl,
	}
	d.svc = NewTagAuthService(
		d.cardRepo, d.locationRepo, d.scanRepo, d.keySvc,
		d.transactor, nil, zerolog.Nop(),
	)
	return d
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

// testCardKeys returns the key set matching the captured tap vectors.
func testCardKeys(t *testing.T) *domain.CardKeys {
	t.Helper()
	return &domain.CardKeys{
		K1: mustHex(t, testK1),
		K2: mustHex(t, testK2),
	}
}

func testCard(locationID uuid.UUID) *domain.NfcCard {
	uid := testUID
	return &domain.NfcCard{
		ID:         uuid.New(),
		LocationID: locationID,
		UID:        &uid,
		KeyVersion: 1,
		Counter:    5,
		Status:     domain.CardStatusActive,
	}
}

func TestTagAuthService_VerifyTap_Success(t *testing.T) {
	d := setupTagAuthService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := &domain.Location{ID: uuid.New(), Status: domain.LocationStatusActive}
	card := testCard(location.ID)
	tx := &mockTx{}

	d.cardRepo.EXPECT().GetByID(ctx, card.ID).Return(card, nil)
	d.locationRepo.EXPECT().GetByID(ctx, location.ID).Return(location, nil)
	d.keySvc.EXPECT().DeriveKeys(card.ID, 1).Return(testCardKeys(t), nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.cardRepo.EXPECT().GetByIDForUpdate(ctx, tx, card.ID).Return(card, nil)
	d.cardRepo.EXPECT().AdvanceCounter(ctx, tx, card.ID, int64(10)).Return(nil)
	d.scanRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)

	result, err := d.svc.VerifyTap(ctx, card.ID, testTaps[0].picc, testTaps[0].cmac)
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.Counter)
	assert.Equal(t, location.ID, result.Location.ID)
	require.NotNil(t, result.Scan)
	assert.Equal(t, card.ID, result.Scan.CardID)
	assert.Equal(t, card.ID, result.Scan.ClaimantID)
	assert.Equal(t, int64(10), result.Scan.Counter)
}

func TestTagAuthService_VerifyTap_AdoptsUIDOnFirstTap(t *testing.T) {
	d := setupTagAuthService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := &domain.Location{ID: uuid.New(), Status: domain.LocationStatusActive}
	card := testCard(location.ID)
	card.UID = nil
	tx := &mockTx{}

	// Armed without a UID on file: the first verified tap pins the card
	// to the tag it came from.
	locked := *card
	d.cardRepo.EXPECT().GetByID(ctx, card.ID).Return(card, nil)
	d.locationRepo.EXPECT().GetByID(ctx, location.ID).Return(location, nil)
	d.keySvc.EXPECT().DeriveKeys(card.ID, 1).Return(testCardKeys(t), nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.cardRepo.EXPECT().GetByIDForUpdate(ctx, tx, card.ID).Return(&locked, nil)
	d.cardRepo.EXPECT().AdoptUID(ctx, tx, card.ID, testUID).Return(nil)
	d.cardRepo.EXPECT().AdvanceCounter(ctx, tx, card.ID, int64(10)).Return(nil)
	d.scanRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)

	result, err := d.svc.VerifyTap(ctx, card.ID, testTaps[0].picc, testTaps[0].cmac)
	require.NoError(t, err)
	require.NotNil(t, result.Card.UID)
	assert.Equal(t, testUID, *result.Card.UID)
}

func TestTagAuthService_VerifyTap_Replay(t *testing.T) {
	d := setupTagAuthService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := &domain.Location{ID: uuid.New(), Status: domain.LocationStatusActive}
	card := testCard(location.ID)
	tx := &mockTx{}

	// Another tap advanced the counter past this message between the MAC
	// check and the row lock.
	locked := *card
	locked.Counter = 10

	d.cardRepo.EXPECT().GetByID(ctx, card.ID).Return(card, nil)
	d.locationRepo.EXPECT().GetByID(ctx, location.ID).Return(location, nil)
	d.keySvc.EXPECT().DeriveKeys(card.ID, 1).Return(testCardKeys(t), nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.cardRepo.EXPECT().GetByIDForUpdate(ctx, tx, card.ID).Return(&locked, nil)

	_, err := d.svc.VerifyTap(ctx, card.ID, testTaps[0].picc, testTaps[0].cmac)
	require.Error(t, err)
	assertAppErrorCode(t, err, "TAG_004")
}

func TestTagAuthService_VerifyTap_CMACMismatch(t *testing.T) {
	d := setupTagAuthService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := &domain.Location{ID: uuid.New(), Status: domain.LocationStatusActive}
	card := testCard(location.ID)

	d.cardRepo.EXPECT().GetByID(ctx, card.ID).Return(card, nil)
	d.locationRepo.EXPECT().GetByID(ctx, location.ID).Return(location, nil)
	d.keySvc.EXPECT().DeriveKeys(card.ID, 1).Return(testCardKeys(t), nil)

	_, err := d.svc.VerifyTap(ctx, card.ID, testTaps[0].picc, "0000000000000000")
	require.Error(t, err)
	assertAppErrorCode(t, err, "TAG_002")
}

func TestTagAuthService_VerifyTap_UIDMismatch(t *testing.T) {
	d := setupTagAuthService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := &domain.Location{ID: uuid.New(), Status: domain.LocationStatusActive}
	card := testCard(location.ID)
	other := "04ffffffffffff"
	card.UID = &other

	d.cardRepo.EXPECT().GetByID(ctx, card.ID).Return(card, nil)
	d.locationRepo.EXPECT().GetByID(ctx, location.ID).Return(location, nil)
	d.keySvc.EXPECT().DeriveKeys(card.ID, 1).Return(testCardKeys(t), nil)

	_, err := d.svc.VerifyTap(ctx, card.ID, testTaps[0].picc, testTaps[0].cmac)
	require.Error(t, err)
	assertAppErrorCode(t, err, "TAG_003")
}

func TestTagAuthService_VerifyTap_UnknownCard(t *testing.T) {
	d := setupTagAuthService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	cardID := uuid.New()

	d.cardRepo.EXPECT().GetByID(ctx, cardID).Return(nil, nil)

	_, err := d.svc.VerifyTap(ctx, cardID, testTaps[0].picc, testTaps[0].cmac)
	require.Error(t, err)
	assertAppErrorCode(t, err, "TAG_005")
}

func TestTagAuthService_VerifyTap_UnprogrammedCard(t *testing.T) {
	d := setupTagAuthService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	card := testCard(uuid.New())
	card.Status = domain.CardStatusCreated

	d.cardRepo.EXPECT().GetByID(ctx, card.ID).Return(card, nil)

	_, err := d.svc.VerifyTap(ctx, card.ID, testTaps[0].picc, testTaps[0].cmac)
	require.Error(t, err)
	assertAppErrorCode(t, err, "TAG_005")
}

func TestTagAuthService_VerifyTap_PausedLocation(t *testing.T) {
	d := setupTagAuthService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := &domain.Location{ID: uuid.New(), Status: domain.LocationStatusPaused}
	card := testCard(location.ID)

	d.cardRepo.EXPECT().GetByID(ctx, card.ID).Return(card, nil)
	d.locationRepo.EXPECT().GetByID(ctx, location.ID).Return(location, nil)

	_, err := d.svc.VerifyTap(ctx, card.ID, testTaps[0].picc, testTaps[0].cmac)
	require.Error(t, err)
	assertAppErrorCode(t, err, "LED_003")
}

func TestTagAuthService_VerifyTap_MalformedInput(t *testing.T) {
	d := setupTagAuthService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()

	_, err := d.svc.VerifyTap(ctx, uuid.New(), "not-hex", testTaps[0].cmac)
	assertAppErrorCode(t, err, "TAG_001")

	_, err = d.svc.VerifyTap(ctx, uuid.New(), testTaps[0].picc, "beef")
	assertAppErrorCode(t, err, "TAG_001")
}

func assertAppErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
}
