package payer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"satshunt/internal/core/ports"

	"github.com/rs/zerolog"
)

const maxResponseBytes = 1 << 20

// Doer abstracts the HTTP client for tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPPayer implements ports.PayerService against an LNbits-compatible
// wallet API. The API key authorizes a single funding wallet.
type HTTPPayer struct {
	baseURL string
	apiKey  string
	client  Doer
	log     zerolog.Logger
}

// NewHTTPPayer creates a new HTTPPayer.
func NewHTTPPayer(baseURL, apiKey string, client Doer, log zerolog.Logger) *HTTPPayer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPPayer{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  client,
		log:     log,
	}
}

type paymentRequest struct {
	Out    bool   `json:"out"`
	Bolt11 string `json:"bolt11,omitempty"`
	Amount int64  `json:"amount,omitempty"`
	Memo   string `json:"memo,omitempty"`
	Expiry int64  `json:"expiry,omitempty"`
	Unit   string `json:"unit,omitempty"`
}

type paymentResponse struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
	ExpiresAt      int64  `json:"expires_at"`
}

type paymentStatus struct {
	Paid    bool `json:"paid"`
	Details struct {
		Pending    bool   `json:"pending"`
		FailReason string `json:"fail_reason"`
	} `json:"details"`
}

// PayInvoice submits an outgoing payment and reports its state. A payment
// the wallet accepted but has not settled comes back PENDING; the sweep
// resolves it later via CheckPayment.
func (p *HTTPPayer) PayInvoice(ctx context.Context, invoice string) (*ports.PaymentResult, error) {
	var resp paymentResponse
	err := p.call(ctx, http.MethodPost, "/api/v1/payments", paymentRequest{Out: true, Bolt11: invoice}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.PaymentHash == "" {
		return nil, fmt.Errorf("wallet returned no payment hash")
	}
	return p.CheckPayment(ctx, resp.PaymentHash)
}

// CheckPayment reports the wallet's view of an outgoing payment.
func (p *HTTPPayer) CheckPayment(ctx context.Context, paymentHash string) (*ports.PaymentResult, error) {
	var status paymentStatus
	err := p.call(ctx, http.MethodGet, "/api/v1/payments/"+paymentHash, nil, &status)
	if err != nil {
		return nil, err
	}

	result := &ports.PaymentResult{PaymentHash: paymentHash}
	switch {
	case status.Paid:
		result.State = ports.PaymentStateSucceeded
	case status.Details.Pending:
		result.State = ports.PaymentStatePending
	default:
		result.State = ports.PaymentStateFailed
		result.FailReason = status.Details.FailReason
		if result.FailReason == "" {
			result.FailReason = "payment failed"
		}
	}
	return result, nil
}

// CreateInvoice asks the wallet for an incoming invoice. The wallet API
// takes whole satoshis, so sub-satoshi remainders round up to keep the
// invoice at least as large as the requested amount.
func (p *HTTPPayer) CreateInvoice(ctx context.Context, amountMsat int64, memo string, ttl time.Duration) (*ports.Invoice, error) {
	req := paymentRequest{
		Out:    false,
		Amount: (amountMsat + 999) / 1000,
		Memo:   memo,
		Expiry: int64(ttl.Seconds()),
		Unit:   "sat",
	}
	var resp paymentResponse
	if err := p.call(ctx, http.MethodPost, "/api/v1/payments", req, &resp); err != nil {
		return nil, err
	}
	if resp.PaymentRequest == "" || resp.PaymentHash == "" {
		return nil, fmt.Errorf("wallet returned incomplete invoice")
	}

	inv := &ports.Invoice{
		PaymentRequest: resp.PaymentRequest,
		PaymentHash:    resp.PaymentHash,
	}
	if resp.ExpiresAt > 0 {
		inv.ExpiresAt = time.Unix(resp.ExpiresAt, 0).UTC()
	} else {
		inv.ExpiresAt = time.Now().UTC().Add(ttl)
	}
	return inv, nil
}

// CheckInvoice reports whether an incoming invoice settled.
func (p *HTTPPayer) CheckInvoice(ctx context.Context, paymentHash string) (bool, error) {
	var status paymentStatus
	if err := p.call(ctx, http.MethodGet, "/api/v1/payments/"+paymentHash, nil, &status); err != nil {
		return false, err
	}
	return status.Paid, nil
}

func (p *HTTPPayer) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("wallet request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read wallet response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("wallet returned %d: %s", resp.StatusCode, truncate(data, 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode wallet response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
