package payer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"satshunt/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPayer(t *testing.T, handler http.HandlerFunc) *HTTPPayer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPPayer(srv.URL, "test-api-key", srv.Client(), zerolog.Nop())
}

func TestHTTPPayer_PayInvoice_Succeeded(t *testing.T) {
	payer := newTestPayer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-api-key", r.Header.Get("X-Api-Key"))

		switch {
		case r.Method == http.MethodPost:
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, true, req["out"])
			assert.Equal(t, "lnbc210u1xyz", req["bolt11"])
			_ = json.NewEncoder(w).Encode(map[string]any{"payment_hash": "hash123"})
		case r.Method == http.MethodGet:
			assert.Equal(t, "/api/v1/payments/hash123", r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]any{"paid": true})
		}
	})

	result, err := payer.PayInvoice(context.Background(), "lnbc210u1xyz")
	require.NoError(t, err)
	assert.Equal(t, ports.PaymentStateSucceeded, result.State)
	assert.Equal(t, "hash123", result.PaymentHash)
}

func TestHTTPPayer_PayInvoice_Pending(t *testing.T) {
	payer := newTestPayer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(map[string]any{"payment_hash": "hash123"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"paid":    false,
			"details": map[string]any{"pending": true},
		})
	})

	result, err := payer.PayInvoice(context.Background(), "lnbc210u1xyz")
	require.NoError(t, err)
	assert.Equal(t, ports.PaymentStatePending, result.State)
}

func TestHTTPPayer_PayInvoice_Failed(t *testing.T) {
	payer := newTestPayer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(map[string]any{"payment_hash": "hash123"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"paid":    false,
			"details": map[string]any{"pending": false, "fail_reason": "no route"},
		})
	})

	result, err := payer.PayInvoice(context.Background(), "lnbc210u1xyz")
	require.NoError(t, err)
	assert.Equal(t, ports.PaymentStateFailed, result.State)
	assert.Equal(t, "no route", result.FailReason)
}

func TestHTTPPayer_PayInvoice_WalletError(t *testing.T) {
	payer := newTestPayer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"insufficient wallet balance"}`, http.StatusPaymentRequired)
	})

	_, err := payer.PayInvoice(context.Background(), "lnbc210u1xyz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "402")
}

func TestHTTPPayer_CreateInvoice(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).Unix()
	payer := newTestPayer(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, false, req["out"])
		assert.Equal(t, float64(5_000), req["amount"])
		assert.Equal(t, "sat", req["unit"])
		assert.Equal(t, "test memo", req["memo"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"payment_hash":    "hash456",
			"payment_request": "lnbc50u1xyz",
			"expires_at":      expiresAt,
		})
	})

	inv, err := payer.CreateInvoice(context.Background(), 5_000_000, "test memo", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "lnbc50u1xyz", inv.PaymentRequest)
	assert.Equal(t, "hash456", inv.PaymentHash)
	assert.Equal(t, time.Unix(expiresAt, 0).UTC(), inv.ExpiresAt)
}

func TestHTTPPayer_CreateInvoice_RoundsUpToWholeSat(t *testing.T) {
	payer := newTestPayer(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// 1500 msat becomes a 2 sat invoice so the amount is covered.
		assert.Equal(t, float64(2), req["amount"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"payment_hash":    "hash789",
			"payment_request": "lnbc20n1xyz",
		})
	})

	inv, err := payer.CreateInvoice(context.Background(), 1_500, "round up", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "hash789", inv.PaymentHash)
}

func TestHTTPPayer_CheckInvoice(t *testing.T) {
	payer := newTestPayer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/payments/hash456", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"paid": true})
	})

	settled, err := payer.CheckInvoice(context.Background(), "hash456")
	require.NoError(t, err)
	assert.True(t, settled)
}
