package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("LED_001", "Insufficient funds", http.StatusPaymentRequired),
			expected: "[LED_001] Insufficient funds",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
}

func TestAppError_IsNilUnwrap(t *testing.T) {
	appErr := New("LED_002", "test", http.StatusBadRequest)
	assert.Nil(t, appErr.Unwrap())
}

func TestTagErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"TagInvalid", ErrTagInvalid("picc too short"), "TAG_001", 400},
		{"TagCMACMismatch", ErrTagCMACMismatch(), "TAG_002", 401},
		{"TagUIDMismatch", ErrTagUIDMismatch(), "TAG_003", 401},
		{"TagReplay", ErrTagReplay(), "TAG_004", 409},
		{"CardNotProgrammed", ErrCardNotProgrammed(), "TAG_005", 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestLedgerErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InsufficientFunds", ErrInsufficientFunds(), "LED_001", 402},
		{"InvalidAmount", ErrInvalidAmount(), "LED_002", 400},
		{"LocationNotActive", ErrLocationNotActive(), "LED_003", 409},
		{"DuplicateWithdrawal", ErrDuplicateWithdrawal(), "LED_004", 409},
		{"NotFound", ErrNotFound("Location"), "LED_005", 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestPayerErrors(t *testing.T) {
	inner := fmt.Errorf("route not found")
	failed := ErrPaymentFailed(inner)
	assert.Equal(t, "PAY_001", failed.Code)
	assert.Equal(t, 502, failed.HTTPStatus)
	assert.True(t, errors.Is(failed, inner))

	pending := ErrPaymentPending()
	assert.Equal(t, "PAY_002", pending.Code)
	assert.Equal(t, 202, pending.HTTPStatus)

	bounds := ErrAmountOutOfBounds(1000, 21000000)
	assert.Equal(t, "PAY_004", bounds.Code)
	assert.Contains(t, bounds.Message, "1000")
	assert.Contains(t, bounds.Message, "21000000")
}

func TestAuthErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InvalidCredentials", ErrInvalidCredentials(), "AUTH_001", 401},
		{"UsernameExists", ErrUsernameExists(), "AUTH_002", 409},
		{"InvalidToken", ErrInvalidToken(), "AUTH_003", 401},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestSystemErrors(t *testing.T) {
	inner := fmt.Errorf("pg: connection closed")
	dbErr := ErrDatabaseError(inner)
	assert.Equal(t, "SYS_001", dbErr.Code)
	assert.Equal(t, 500, dbErr.HTTPStatus)
	assert.True(t, errors.Is(dbErr, inner))

	keyErr := ErrKeyDerivation(fmt.Errorf("master secret is not valid hex"))
	assert.Equal(t, "SYS_002", keyErr.Code)
	assert.Equal(t, 500, keyErr.HTTPStatus)
}

func TestRateLimitError(t *testing.T) {
	err := ErrRateLimitExceeded()
	assert.Equal(t, "RATE_001", err.Code)
	assert.Equal(t, 429, err.HTTPStatus)
}

func TestNotFoundEntity(t *testing.T) {
	err := ErrNotFound("Card")
	assert.Contains(t, err.Message, "Card")
	assert.Equal(t, "LED_005", err.Code)
}
