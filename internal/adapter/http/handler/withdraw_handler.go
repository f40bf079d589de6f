package handler

import (
	"net/http"

	"satshunt/internal/core/ports"
	"satshunt/pkg/apperror"
	"satshunt/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WithdrawHandler handles the LNURL-withdraw protocol endpoints. Both
// legs speak the bare LNURL wire format, not the JSON API envelope:
// wallets only understand {"status":...} and the withdrawRequest object.
type WithdrawHandler struct {
	withdrawSvc ports.WithdrawService
}

// NewWithdrawHandler creates a new WithdrawHandler.
func NewWithdrawHandler(withdrawSvc ports.WithdrawService) *WithdrawHandler {
	return &WithdrawHandler{withdrawSvc: withdrawSvc}
}

// Request handles GET /api/v1/lnurlw/:card_id.
//
// The NTAG424 tag emits this URL with p (encrypted PICC data) and c
// (truncated CMAC) filled in by the chip on every tap.
func (h *WithdrawHandler) Request(c *gin.Context) {
	cardID, err := uuid.Parse(c.Param("card_id"))
	if err != nil {
		response.LnurlError(c, apperror.Validation("invalid card id"))
		return
	}

	picc := c.Query("p")
	cmac := c.Query("c")
	if picc == "" || cmac == "" {
		response.LnurlError(c, apperror.Validation("missing tap parameters"))
		return
	}

	resp, err := h.withdrawSvc.InitialRequest(c.Request.Context(), cardID, picc, cmac)
	if err != nil {
		response.LnurlError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Callback handles GET /api/v1/lnurlw/callback.
//
// The wallet presents the one-shot k1 from the first leg together with
// its invoice in pr.
func (h *WithdrawHandler) Callback(c *gin.Context) {
	k1 := c.Query("k1")
	pr := c.Query("pr")
	if k1 == "" || pr == "" {
		response.LnurlError(c, apperror.Validation("missing k1 or pr"))
		return
	}

	if err := h.withdrawSvc.Callback(c.Request.Context(), k1, pr); err != nil {
		response.LnurlError(c, err)
		return
	}

	response.LnurlOK(c)
}
