package handler

import (
	"strconv"
	"time"

	"satshunt/internal/adapter/http/dto"
	"satshunt/internal/adapter/http/middleware"
	"satshunt/internal/core/domain"
	"satshunt/internal/core/ports"
	"satshunt/pkg/apperror"
	"satshunt/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WalletHandler handles the custodial wallet endpoints. All routes
// require a JWT; the player ID comes from the token claims.
type WalletHandler struct {
	walletSvc ports.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc}
}

// Collect handles POST /api/v1/wallet/collect. A registered player taps
// a tag and banks the reward instead of withdrawing it on the spot.
func (h *WalletHandler) Collect(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CollectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	cardID, err := uuid.Parse(req.CardID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid card id"))
		return
	}

	utx, err := h.walletSvc.Collect(c.Request.Context(), userID, cardID, req.Picc, req.Cmac)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionDTO(utx))
}

// Balance handles GET /api/v1/wallet/balance.
func (h *WalletHandler) Balance(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	balance, err := h.walletSvc.Balance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.WalletBalanceResponse{BalanceMsat: balance})
}

// Withdraw handles POST /api/v1/wallet/withdraw.
func (h *WalletHandler) Withdraw(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.WalletWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	utx, err := h.walletSvc.Withdraw(c.Request.Context(), userID, req.Invoice)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionDTO(utx))
}

// WithdrawToAddress handles POST /api/v1/wallet/withdraw-address.
func (h *WalletHandler) WithdrawToAddress(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.WalletWithdrawAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	utx, err := h.walletSvc.WithdrawToAddress(c.Request.Context(), userID, req.Address, req.AmountMsat)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionDTO(utx))
}

// ListTransactions handles GET /api/v1/wallet/transactions.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txs, err := h.walletSvc.ListTransactions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.UserTransactionResponse, 0, len(txs))
	for i := range txs {
		items = append(items, toTransactionDTO(&txs[i]))
	}

	response.OK(c, dto.TransactionListResponse{
		Items:  items,
		Limit:  limit,
		Offset: offset,
	})
}

func toTransactionDTO(utx *domain.UserTransaction) dto.UserTransactionResponse {
	resp := dto.UserTransactionResponse{
		ID:         utx.ID.String(),
		Type:       string(utx.Type),
		AmountMsat: utx.AmountMsat,
		Status:     string(utx.Status),
		Invoice:    utx.Invoice,
		CreatedAt:  utx.CreatedAt.UTC().Format(time.RFC3339),
	}
	if utx.LocationID != nil {
		s := utx.LocationID.String()
		resp.LocationID = &s
	}
	return resp
}
