package service

import (
	"context"
	"fmt"

	"satshunt/internal/core/domain"
	"satshunt/internal/core/ports"
	"satshunt/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReportingServiceImpl implements ports.ReportingService.
type ReportingServiceImpl struct {
	locationRepo ports.LocationRepository
	ledgerRepo   ports.LedgerRepository
	ledger       ports.LedgerService
	log          zerolog.Logger
}

// NewReportingService creates a new ReportingServiceImpl.
func NewReportingService(
	locationRepo ports.LocationRepository,
	ledgerRepo ports.LedgerRepository,
	ledger ports.LedgerService,
	log zerolog.Logger,
) *ReportingServiceImpl {
	return &ReportingServiceImpl{
		locationRepo: locationRepo,
		ledgerRepo:   ledgerRepo,
		ledger:       ledger,
		log:          log,
	}
}

// LocationStats returns public statistics for one location.
func (s *ReportingServiceImpl) LocationStats(ctx context.Context, locationID uuid.UUID) (*domain.LocationStats, error) {
	location, err := s.locationRepo.GetByID(ctx, locationID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if location == nil {
		return nil, apperror.ErrNotFound("Location")
	}
	return s.statsFor(ctx, location)
}

// AllStats returns statistics for every location, for the public leaderboard.
func (s *ReportingServiceImpl) AllStats(ctx context.Context) ([]domain.LocationStats, error) {
	locations, err := s.locationRepo.List(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	stats := make([]domain.LocationStats, 0, len(locations))
	for i := range locations {
		st, err := s.statsFor(ctx, &locations[i])
		if err != nil {
			// One broken location must not blank the whole board.
			s.log.Error().Err(err).Str("location_id", locations[i].ID.String()).Msg("stats aggregation failed")
			continue
		}
		stats = append(stats, *st)
	}
	return stats, nil
}

func (s *ReportingServiceImpl) statsFor(ctx context.Context, location *domain.Location) (*domain.LocationStats, error) {
	poolBalance, err := s.ledger.PoolBalance(ctx, location.ID)
	if err != nil {
		return nil, fmt.Errorf("pool balance: %w", err)
	}
	available, err := s.ledger.Available(ctx, location.ID)
	if err != nil {
		return nil, fmt.Errorf("available: %w", err)
	}
	claimCount, claimedMsat, err := s.ledgerRepo.ClaimStats(ctx, location.ID)
	if err != nil {
		return nil, fmt.Errorf("claim stats: %w", err)
	}
	donatedMsat, err := s.ledgerRepo.CreditStats(ctx, location.ID)
	if err != nil {
		return nil, fmt.Errorf("credit stats: %w", err)
	}

	return &domain.LocationStats{
		LocationID:      location.ID,
		Name:            location.Name,
		Latitude:        location.Latitude,
		Longitude:       location.Longitude,
		PoolBalanceMsat: poolBalance,
		AvailableMsat:   available,
		ClaimCount:      claimCount,
		ClaimedMsat:     claimedMsat,
		DonatedMsat:     donatedMsat,
	}, nil
}
