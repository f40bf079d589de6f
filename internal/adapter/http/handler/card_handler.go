package handler

import (
	"encoding/hex"

	"satshunt/internal/adapter/http/dto"
	"satshunt/internal/core/ports"
	"satshunt/pkg/apperror"
	"satshunt/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CardHandler handles card provisioning: minting card rows (admin) and
// the key exchange with the programming app.
type CardHandler struct {
	cardSvc ports.CardService
}

// NewCardHandler creates a new CardHandler.
func NewCardHandler(cardSvc ports.CardService) *CardHandler {
	return &CardHandler{cardSvc: cardSvc}
}

// CreateCard handles POST /api/v1/admin/cards.
func (h *CardHandler) CreateCard(c *gin.Context) {
	var req dto.CreateCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	locationID, err := uuid.Parse(req.LocationID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid location id"))
		return
	}

	card, writeToken, err := h.cardSvc.CreateCard(c.Request.Context(), locationID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.CreateCardResponse{
		CardID:     card.ID.String(),
		LocationID: card.LocationID.String(),
		WriteToken: writeToken,
	})
}

// RotateKeys handles POST /api/v1/admin/cards/:card_id/rotate.
//
// Bumps the key version and returns a fresh write token. The tag stops
// verifying until it is reprogrammed with the new key set.
func (h *CardHandler) RotateKeys(c *gin.Context) {
	cardID, err := uuid.Parse(c.Param("card_id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid card id"))
		return
	}

	card, writeToken, err := h.cardSvc.RotateKeys(c.Request.Context(), cardID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.CreateCardResponse{
		CardID:     card.ID.String(),
		LocationID: card.LocationID.String(),
		WriteToken: writeToken,
	})
}

// ProgramKeys handles POST /api/v1/boltcard/:write_token.
//
// The programming app presents the one-shot write token plus the chip
// UID and receives the derived key set in exchange. The token is dead
// after this call whether or not the physical write succeeds; a failed
// write means minting a fresh card row.
func (h *CardHandler) ProgramKeys(c *gin.Context) {
	var req dto.ProgramKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.cardSvc.ProgramKeys(c.Request.Context(), c.Param("write_token"), req.UID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ProgramKeysResponse{
		CardID:     result.CardID.String(),
		LnurlwBase: result.LnurlwBase,
		Lnurlw:     result.Lnurlw,
		Version:    result.Version,
		K0:         hex.EncodeToString(result.Keys.K0),
		K1:         hex.EncodeToString(result.Keys.K1),
		K2:         hex.EncodeToString(result.Keys.K2),
		K3:         hex.EncodeToString(result.Keys.K3),
		K4:         hex.EncodeToString(result.Keys.K4),
	})
}
