package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"satshunt/internal/core/domain"
	"satshunt/internal/core/ports"
	"satshunt/pkg/apperror"
	"satshunt/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TagAuthServiceImpl implements ports.TagAuthService.
type TagAuthServiceImpl struct {
	cardRepo     ports.CardRepository
	locationRepo ports.LocationRepository
	scanRepo     ports.ScanRepository
	keySvc       ports.KeyService
	transactor   ports.DBTransactor
	metrics      *metrics.Metrics
	log          zerolog.Logger
}

// NewTagAuthService creates a new TagAuthServiceImpl.
func NewTagAuthService(
	cardRepo ports.CardRepository,
	locationRepo ports.LocationRepository,
	scanRepo ports.ScanRepository,
	keySvc ports.KeyService,
	transactor ports.DBTransactor,
	m *metrics.Metrics,
	log zerolog.Logger,
) *TagAuthServiceImpl {
	return &TagAuthServiceImpl{
		cardRepo:     cardRepo,
		locationRepo: locationRepo,
		scanRepo:     scanRepo,
		keySvc:       keySvc,
		transactor:   transactor,
		metrics:      m,
		log:          log,
	}
}

// VerifyTap authenticates one SUN message end to end: decrypt, UID check,
// MAC check, then counter advance under the card row lock. A tap is
// accepted at most once; verification failures leave no trace in the DB.
func (s *TagAuthServiceImpl) VerifyTap(ctx context.Context, cardID uuid.UUID, piccHex, cmacHex string) (*ports.TapResult, error) {
	encrypted, err := hex.DecodeString(piccHex)
	if err != nil {
		s.metrics.TapVerified("malformed")
		return nil, apperror.ErrTagInvalid("picc data is not valid hex")
	}
	presented, err := hex.DecodeString(cmacHex)
	if err != nil || len(presented) != 8 {
		s.metrics.TapVerified("malformed")
		return nil, apperror.ErrTagInvalid("cmac must be 8 bytes of hex")
	}

	card, err := s.cardRepo.GetByID(ctx, cardID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("load card: %w", err))
	}
	if card == nil {
		s.metrics.TapVerified("unknown_card")
		return nil, apperror.ErrCardNotProgrammed()
	}
	if !card.CanVerify() {
		s.metrics.TapVerified("unknown_card")
		return nil, apperror.ErrCardNotProgrammed()
	}

	location, err := s.locationRepo.GetByID(ctx, card.LocationID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("load location: %w", err))
	}
	if location == nil {
		return nil, apperror.ErrNotFound("Location")
	}
	if !location.IsActive() {
		return nil, apperror.ErrLocationNotActive()
	}

	keys, err := s.keySvc.DeriveKeys(card.ID, card.KeyVersion)
	if err != nil {
		return nil, err
	}

	payload, err := decryptSunMessage(keys.K1, encrypted)
	if err != nil {
		s.metrics.TapVerified("malformed")
		s.log.Debug().Err(err).Str("card_id", card.ID.String()).Msg("sun decrypt failed")
		return nil, apperror.ErrTagInvalid("undecryptable picc data")
	}

	if card.UID != nil && !strings.EqualFold(*card.UID, hex.EncodeToString(payload.UID[:])) {
		s.metrics.TapVerified("uid_mismatch")
		return nil, apperror.ErrTagUIDMismatch()
	}

	ok, err := verifySunMAC(keys.K2, payload, presented)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("compute mac: %w", err))
	}
	if !ok {
		s.metrics.TapVerified("cmac_mismatch")
		s.log.Warn().Str("card_id", card.ID.String()).Msg("cmac verification failed")
		return nil, apperror.ErrTagCMACMismatch()
	}

	// MAC is good; now enforce counter monotonicity under the row lock so
	// two concurrent taps of the same message cannot both pass.
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	locked, err := s.cardRepo.GetByIDForUpdate(ctx, dbTx, card.ID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock card: %w", err))
	}
	if locked == nil {
		return nil, apperror.ErrCardNotProgrammed()
	}
	tapUID := hex.EncodeToString(payload.UID[:])
	if locked.UID == nil {
		// First verified tap of a card armed without a UID on file. The
		// MAC already proved the tag holds the derived keys, so the card
		// adopts this UID and pins every later tap to it.
		if err := s.cardRepo.AdoptUID(ctx, dbTx, card.ID, tapUID); err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("adopt uid: %w", err))
		}
		locked.UID = &tapUID
		card.UID = &tapUID
		s.log.Info().
			Str("card_id", card.ID.String()).
			Str("uid", tapUID).
			Msg("card adopted tag uid on first tap")
	} else if !strings.EqualFold(*locked.UID, tapUID) {
		s.metrics.TapVerified("uid_mismatch")
		return nil, apperror.ErrTagUIDMismatch()
	}

	if int64(payload.Counter) <= locked.Counter {
		s.metrics.TapVerified("replay")
		s.log.Warn().
			Str("card_id", card.ID.String()).
			Uint32("counter", payload.Counter).
			Int64("last_seen", locked.Counter).
			Msg("tap counter replay")
		return nil, apperror.ErrTagReplay()
	}

	if err := s.cardRepo.AdvanceCounter(ctx, dbTx, card.ID, int64(payload.Counter)); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("advance counter: %w", err))
	}

	scan := &domain.Scan{
		ID:         uuid.New(),
		CardID:     card.ID,
		LocationID: location.ID,
		ClaimantID: card.ID,
		Counter:    int64(payload.Counter),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.scanRepo.Create(ctx, dbTx, scan); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("record scan: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.metrics.TapVerified("ok")
	s.log.Info().
		Str("card_id", card.ID.String()).
		Str("location_id", location.ID.String()).
		Uint32("counter", payload.Counter).
		Msg("tap verified")

	card.Counter = int64(payload.Counter)
	return &ports.TapResult{
		Card:     card,
		Location: location,
		Scan:     scan,
		Counter:  int64(payload.Counter),
	}, nil
}
