package service

import (
	"context"
	"strings"
	"testing"

	"satshunt/internal/core/domain"
	"satshunt/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type cardTestDeps struct {
	svc          *CardServiceImpl
	cardRepo     *mocks.MockCardRepository
	locationRepo *mocks.MockLocationRepository
	keySvc       *mocks.MockKeyService
	ctrl         *gomock.Controller
}

func setupCardService(t *testing.T) *cardTestDeps {
	ctrl := gomock.NewController(t)
	d := &cardTestDeps{
		cardRepo:     mocks.NewMockCardRepository(ctrl),
		locationRepo: mocks.NewMockLocationRepository(ctrl),
		keySvc:       mocks.NewMockKeyService(ctrl),
		ctrl:         ctrl,
	}
	d.svc = NewCardService(d.cardRepo, d.locationRepo, d.keySvc,
		"https://satshunt.example/api/v1/lnurlw/", zerolog.Nop())
	return d
}

func TestCardService_CreateCard_Success(t *testing.T) {
	d := setupCardService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := &domain.Location{ID: uuid.New(), Status: domain.LocationStatusActive}

	d.locationRepo.EXPECT().GetByID(ctx, location.ID).Return(location, nil)
	d.cardRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, card *domain.NfcCard) error {
			assert.Equal(t, location.ID, card.LocationID)
			assert.Equal(t, domain.CardStatusCreated, card.Status)
			assert.Equal(t, 1, card.KeyVersion)
			require.NotNil(t, card.WriteToken)
			assert.Len(t, *card.WriteToken, 64)
			return nil
		})

	card, token, err := d.svc.CreateCard(ctx, location.ID)
	require.NoError(t, err)
	require.NotNil(t, card.WriteToken)
	assert.Equal(t, token, *card.WriteToken)
}

func TestCardService_CreateCard_RetiredLocation(t *testing.T) {
	d := setupCardService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	location := &domain.Location{ID: uuid.New(), Status: domain.LocationStatusRetired}

	d.locationRepo.EXPECT().GetByID(ctx, location.ID).Return(location, nil)

	_, _, err := d.svc.CreateCard(ctx, location.ID)
	assertAppErrorCode(t, err, "LED_003")
}

func TestCardService_CreateCard_UnknownLocation(t *testing.T) {
	d := setupCardService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	d.locationRepo.EXPECT().GetByID(ctx, id).Return(nil, nil)

	_, _, err := d.svc.CreateCard(ctx, id)
	assertAppErrorCode(t, err, "LED_005")
}

func TestCardService_ProgramKeys_Success(t *testing.T) {
	d := setupCardService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	token := "aabbcc"
	card := &domain.NfcCard{
		ID:         uuid.New(),
		KeyVersion: 1,
		Status:     domain.CardStatusCreated,
		WriteToken: &token,
	}
	keys := &domain.CardKeys{K1: []byte{1}, K2: []byte{2}}

	d.cardRepo.EXPECT().GetByWriteToken(ctx, token).Return(card, nil)
	d.keySvc.EXPECT().DeriveKeys(card.ID, 1).Return(keys, nil)
	d.cardRepo.EXPECT().MarkProgrammed(ctx, card.ID, "048d58d2142290").Return(nil)

	resp, err := d.svc.ProgramKeys(ctx, token, "048D58D2142290")
	require.NoError(t, err)
	assert.Equal(t, card.ID, resp.CardID)
	assert.Equal(t, keys, resp.Keys)
	assert.Equal(t, 1, resp.Version)
	assert.Equal(t, "https://satshunt.example/api/v1/lnurlw/"+card.ID.String(), resp.LnurlwBase)
	assert.True(t, strings.HasPrefix(resp.Lnurlw, "LNURL1"))

	decoded, err := DecodeLnurl(resp.Lnurlw)
	require.NoError(t, err)
	assert.Equal(t, resp.LnurlwBase, decoded)
}

func TestCardService_ProgramKeys_UnknownToken(t *testing.T) {
	d := setupCardService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.cardRepo.EXPECT().GetByWriteToken(ctx, "nope").Return(nil, nil)

	_, err := d.svc.ProgramKeys(ctx, "nope", "048d58d2142290")
	assertAppErrorCode(t, err, "LED_005")
}

func TestCardService_ProgramKeys_AlreadyProgrammed(t *testing.T) {
	d := setupCardService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	token := "aabbcc"
	card := &domain.NfcCard{ID: uuid.New(), Status: domain.CardStatusProgrammed}

	d.cardRepo.EXPECT().GetByWriteToken(ctx, token).Return(card, nil)

	_, err := d.svc.ProgramKeys(ctx, token, "048d58d2142290")
	assertAppErrorCode(t, err, "LED_002")
}

func TestCardService_ProgramKeys_BadUID(t *testing.T) {
	d := setupCardService(t)
	defer d.ctrl.Finish()

	for _, uid := range []string{"", "zzzz", "048d58d21422", "048d58d214229000"} {
		_, err := d.svc.ProgramKeys(context.Background(), "token", uid)
		assertAppErrorCode(t, err, "LED_002")
	}
}

func TestCardService_RotateKeys_Success(t *testing.T) {
	d := setupCardService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	card := &domain.NfcCard{
		ID:         uuid.New(),
		LocationID: uuid.New(),
		KeyVersion: 2,
		Counter:    41,
		Status:     domain.CardStatusActive,
	}

	d.cardRepo.EXPECT().GetByID(ctx, card.ID).Return(card, nil)
	d.cardRepo.EXPECT().Rearm(ctx, card.ID, 3, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ uuid.UUID, _ int, writeToken string) error {
			assert.Len(t, writeToken, 64)
			return nil
		})

	rotated, token, err := d.svc.RotateKeys(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, rotated.KeyVersion)
	assert.Equal(t, domain.CardStatusCreated, rotated.Status)
	assert.Equal(t, int64(0), rotated.Counter)
	require.NotNil(t, rotated.WriteToken)
	assert.Equal(t, token, *rotated.WriteToken)
}

func TestCardService_RotateKeys_UnknownCard(t *testing.T) {
	d := setupCardService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	d.cardRepo.EXPECT().GetByID(ctx, id).Return(nil, nil)

	_, _, err := d.svc.RotateKeys(ctx, id)
	assertAppErrorCode(t, err, "LED_005")
}
