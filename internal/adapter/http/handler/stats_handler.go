package handler

import (
	"satshunt/internal/adapter/http/dto"
	"satshunt/internal/core/domain"
	"satshunt/internal/core/ports"
	"satshunt/pkg/apperror"
	"satshunt/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// StatsHandler exposes public hunt statistics.
type StatsHandler struct {
	reportingSvc ports.ReportingService
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(reportingSvc ports.ReportingService) *StatsHandler {
	return &StatsHandler{reportingSvc: reportingSvc}
}

// All handles GET /api/v1/stats.
func (h *StatsHandler) All(c *gin.Context) {
	stats, err := h.reportingSvc.AllStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.StatsResponse{Locations: make([]dto.LocationStatsResponse, 0, len(stats))}
	for i := range stats {
		resp.Locations = append(resp.Locations, toStatsDTO(&stats[i]))
		resp.TotalPoolMsat += stats[i].PoolBalanceMsat
		resp.TotalClaimedMsat += stats[i].ClaimedMsat
		resp.TotalClaims += stats[i].ClaimCount
	}

	response.OK(c, resp)
}

// ByLocation handles GET /api/v1/stats/:location_id.
func (h *StatsHandler) ByLocation(c *gin.Context) {
	locationID, err := uuid.Parse(c.Param("location_id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid location id"))
		return
	}

	stats, err := h.reportingSvc.LocationStats(c.Request.Context(), locationID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toStatsDTO(stats))
}

func toStatsDTO(s *domain.LocationStats) dto.LocationStatsResponse {
	return dto.LocationStatsResponse{
		LocationID:      s.LocationID.String(),
		Name:            s.Name,
		Latitude:        s.Latitude,
		Longitude:       s.Longitude,
		PoolBalanceMsat: s.PoolBalanceMsat,
		AvailableMsat:   s.AvailableMsat,
		ClaimCount:      s.ClaimCount,
		ClaimedMsat:     s.ClaimedMsat,
		DonatedMsat:     s.DonatedMsat,
	}
}
