package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"satshunt/internal/core/domain"
	"satshunt/internal/core/ports"
	"satshunt/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// initialKeyVersion is stamped on new cards; bumped per card on key rotation.
const initialKeyVersion = 1

var uidPattern = regexp.MustCompile(`^[0-9a-fA-F]{14}$`)

// CardServiceImpl implements ports.CardService.
type CardServiceImpl struct {
	cardRepo     ports.CardRepository
	locationRepo ports.LocationRepository
	keySvc       ports.KeyService
	lnurlwBase   string
	log          zerolog.Logger
}

// NewCardService creates a new CardServiceImpl. lnurlwBase is the URL
// template programmed into tags, e.g. "https://host/api/v1/lnurlw".
func NewCardService(
	cardRepo ports.CardRepository,
	locationRepo ports.LocationRepository,
	keySvc ports.KeyService,
	lnurlwBase string,
	log zerolog.Logger,
) *CardServiceImpl {
	return &CardServiceImpl{
		cardRepo:     cardRepo,
		locationRepo: locationRepo,
		keySvc:       keySvc,
		lnurlwBase:   strings.TrimRight(lnurlwBase, "/"),
		log:          log,
	}
}

// CreateCard mints a card row for a location and returns a one-shot write
// token for the programming app. The token is the only way to obtain the
// card's key set and is cleared once used.
func (s *CardServiceImpl) CreateCard(ctx context.Context, locationID uuid.UUID) (*domain.NfcCard, string, error) {
	location, err := s.locationRepo.GetByID(ctx, locationID)
	if err != nil {
		return nil, "", apperror.ErrDatabaseError(err)
	}
	if location == nil {
		return nil, "", apperror.ErrNotFound("Location")
	}
	if location.Status == domain.LocationStatusRetired {
		return nil, "", apperror.ErrLocationNotActive()
	}

	token, err := generateRandomHex(32)
	if err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("generate write token: %w", err))
	}

	card := &domain.NfcCard{
		ID:         uuid.New(),
		LocationID: locationID,
		KeyVersion: initialKeyVersion,
		Status:     domain.CardStatusCreated,
		WriteToken: &token,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.cardRepo.Create(ctx, card); err != nil {
		return nil, "", apperror.ErrDatabaseError(err)
	}

	s.log.Info().
		Str("card_id", card.ID.String()).
		Str("location_id", locationID.String()).
		Msg("card created")
	return card, token, nil
}

// ProgramKeys exchanges a write token for the derived key set and binds
// the tag UID. The token stops working in the same step, so the key set
// crosses the wire exactly once.
func (s *CardServiceImpl) ProgramKeys(ctx context.Context, writeToken string, uid string) (*ports.CardProgramResponse, error) {
	if writeToken == "" {
		return nil, apperror.Validation("write token is required")
	}
	uid = strings.ToLower(strings.TrimSpace(uid))
	if !uidPattern.MatchString(uid) {
		return nil, apperror.Validation("uid must be 7 bytes of hex")
	}

	card, err := s.cardRepo.GetByWriteToken(ctx, writeToken)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if card == nil {
		return nil, apperror.ErrNotFound("Card")
	}
	if card.Status != domain.CardStatusCreated {
		return nil, apperror.Validation("card is already programmed")
	}

	keys, err := s.keySvc.DeriveKeys(card.ID, card.KeyVersion)
	if err != nil {
		return nil, err
	}

	if err := s.cardRepo.MarkProgrammed(ctx, card.ID, uid); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	s.log.Info().
		Str("card_id", card.ID.String()).
		Int("key_version", card.KeyVersion).
		Msg("card programmed")

	base := fmt.Sprintf("%s/%s", s.lnurlwBase, card.ID)
	encoded, err := EncodeLnurl(base)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("encode lnurl: %w", err))
	}

	return &ports.CardProgramResponse{
		CardID:     card.ID,
		LnurlwBase: base,
		Lnurlw:     encoded,
		Keys:       keys,
		Version:    card.KeyVersion,
	}, nil
}

// RotateKeys bumps the card's key version and issues a fresh write token.
// Old keys stop verifying immediately; the tag must be reprogrammed via
// ProgramKeys before it produces accepted taps again.
func (s *CardServiceImpl) RotateKeys(ctx context.Context, cardID uuid.UUID) (*domain.NfcCard, string, error) {
	card, err := s.cardRepo.GetByID(ctx, cardID)
	if err != nil {
		return nil, "", apperror.ErrDatabaseError(err)
	}
	if card == nil {
		return nil, "", apperror.ErrNotFound("Card")
	}

	token, err := generateRandomHex(32)
	if err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("generate write token: %w", err))
	}

	newVersion := card.KeyVersion + 1
	if err := s.cardRepo.Rearm(ctx, card.ID, newVersion, token); err != nil {
		return nil, "", apperror.ErrDatabaseError(err)
	}

	card.KeyVersion = newVersion
	card.WriteToken = &token
	card.Status = domain.CardStatusCreated
	card.Counter = 0

	s.log.Info().
		Str("card_id", card.ID.String()).
		Int("key_version", newVersion).
		Msg("card keys rotated")
	return card, token, nil
}
