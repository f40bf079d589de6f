package handler

import (
	"time"

	"satshunt/internal/adapter/http/dto"
	"satshunt/internal/core/domain"
	"satshunt/internal/core/ports"
	"satshunt/pkg/apperror"
	"satshunt/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DonationHandler handles public donation endpoints.
type DonationHandler struct {
	donationSvc ports.DonationService
}

// NewDonationHandler creates a new DonationHandler.
func NewDonationHandler(donationSvc ports.DonationService) *DonationHandler {
	return &DonationHandler{donationSvc: donationSvc}
}

// Create handles POST /api/v1/donations.
func (h *DonationHandler) Create(c *gin.Context) {
	var req dto.CreateDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	var locationID *uuid.UUID
	if req.LocationID != nil {
		parsed, err := uuid.Parse(*req.LocationID)
		if err != nil {
			response.Error(c, apperror.Validation("invalid location id"))
			return
		}
		locationID = &parsed
	}

	donation, err := h.donationSvc.CreateDonation(c.Request.Context(), ports.CreateDonationRequest{
		LocationID: locationID,
		AmountMsat: req.AmountMsat,
		DonorName:  req.DonorName,
		Comment:    req.Comment,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toDonationDTO(donation))
}

// Get handles GET /api/v1/donations/:id. Donors poll this to learn when
// their invoice settled.
func (h *DonationHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid donation id"))
		return
	}

	donation, err := h.donationSvc.GetDonation(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toDonationDTO(donation))
}

func toDonationDTO(d *domain.Donation) dto.DonationResponse {
	resp := dto.DonationResponse{
		ID:         d.ID.String(),
		AmountMsat: d.AmountMsat,
		Invoice:    d.Invoice,
		Status:     string(d.Status),
		CreatedAt:  d.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:  d.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if d.LocationID != nil {
		s := d.LocationID.String()
		resp.LocationID = &s
	}
	if d.ReceivedAt != nil {
		s := d.ReceivedAt.UTC().Format(time.RFC3339)
		resp.ReceivedAt = &s
	}
	return resp
}
