package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Tag Authentication (TAG) ----
// All of these are terminal for the request; a failed tap is never retried.

func ErrTagInvalid(reason string) *AppError {
	return New("TAG_001", fmt.Sprintf("Invalid NFC scan: %s", reason), http.StatusBadRequest)
}

func ErrTagCMACMismatch() *AppError {
	return New("TAG_002", "NFC signature verification failed", http.StatusUnauthorized)
}

func ErrTagUIDMismatch() *AppError {
	return New("TAG_003", "NFC card does not belong to this location", http.StatusUnauthorized)
}

func ErrTagReplay() *AppError {
	return New("TAG_004", "This scan has already been used, tap again", http.StatusConflict)
}

func ErrCardNotProgrammed() *AppError {
	return New("TAG_005", "NFC card not configured for this location", http.StatusNotFound)
}

// ---- Ledger (LED) ----

func ErrInsufficientFunds() *AppError {
	return New("LED_001", "Location has insufficient funds available", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New("LED_002", "Invalid amount", http.StatusBadRequest)
}

func ErrLocationNotActive() *AppError {
	return New("LED_003", "Location is not active", http.StatusConflict)
}

func ErrDuplicateWithdrawal() *AppError {
	return New("LED_004", "A withdrawal for this invoice is already in flight", http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New("LED_005", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Payer (PAY) ----

func ErrPaymentFailed(err error) *AppError {
	return Wrap("PAY_001", "Payment failed, tap again to retry", http.StatusBadGateway, err)
}

// ErrPaymentPending is returned when the payer outcome is unknown within the
// bounded wait; the withdrawal stays pending and reconciliation resolves it.
func ErrPaymentPending() *AppError {
	return New("PAY_002", "Payment is still pending", http.StatusAccepted)
}

func ErrInvalidInvoice(reason string) *AppError {
	return New("PAY_003", fmt.Sprintf("Invalid invoice: %s", reason), http.StatusBadRequest)
}

func ErrAmountOutOfBounds(min, max int64) *AppError {
	return New("PAY_004",
		fmt.Sprintf("Invoice amount outside withdrawable range (%d-%d msat)", min, max),
		http.StatusBadRequest)
}

// ---- Protocol (LNURL) ----

func ErrChallengeExpired() *AppError {
	return New("LNURL_001", "Withdraw request expired, tap again", http.StatusBadRequest)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrUsernameExists() *AppError {
	return New("AUTH_002", "Username already exists", http.StatusConflict)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

// ErrKeyDerivation signals a missing or malformed master secret. It is
// produced at startup only, never per request.
func ErrKeyDerivation(err error) *AppError {
	return Wrap("SYS_002", "Card key derivation unavailable", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a generic bad-request error.
func Validation(message string) *AppError {
	return New("LED_002", message, http.StatusBadRequest)
}
