package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"satshunt/pkg/apperror"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const lnurlHRP = "lnurl"

// EncodeLnurl encodes a URL as an uppercase bech32 LNURL string (LUD-01).
func EncodeLnurl(rawURL string) (string, error) {
	converted, err := bech32.ConvertBits([]byte(rawURL), 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert bits: %w", err)
	}
	encoded, err := bech32.Encode(lnurlHRP, converted)
	if err != nil {
		return "", fmt.Errorf("bech32 encode: %w", err)
	}
	return strings.ToUpper(encoded), nil
}

// DecodeLnurl decodes an LNURL string back to its URL.
func DecodeLnurl(lnurl string) (string, error) {
	hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(lnurl))
	if err != nil {
		return "", fmt.Errorf("bech32 decode: %w", err)
	}
	if hrp != lnurlHRP {
		return "", fmt.Errorf("unexpected hrp %q", hrp)
	}
	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("convert bits: %w", err)
	}
	return string(converted), nil
}

// invoiceAmountMsat extracts the amount from a BOLT11 invoice's
// human-readable part. Amountless invoices are rejected: every withdrawal
// must name its amount so the ledger can reserve it.
func invoiceAmountMsat(invoice string) (int64, error) {
	inv := strings.ToLower(strings.TrimSpace(invoice))
	if !strings.HasPrefix(inv, "ln") {
		return 0, apperror.ErrInvalidInvoice("missing ln prefix")
	}

	sep := strings.LastIndex(inv, "1")
	if sep < 2 {
		return 0, apperror.ErrInvalidInvoice("missing data separator")
	}
	hrp := inv[2:sep]

	// Strip the currency prefix (bc, tb, bcrt, sb).
	i := 0
	for i < len(hrp) && (hrp[i] < '0' || hrp[i] > '9') {
		i++
	}
	amountPart := hrp[i:]
	if amountPart == "" {
		return 0, apperror.ErrInvalidInvoice("amountless invoice")
	}

	multiplier := amountPart[len(amountPart)-1]
	digits := amountPart
	if multiplier < '0' || multiplier > '9' {
		digits = amountPart[:len(amountPart)-1]
	}
	if digits == "" {
		return 0, apperror.ErrInvalidInvoice("malformed amount")
	}
	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || value <= 0 {
		return 0, apperror.ErrInvalidInvoice("malformed amount")
	}

	// 1 BTC = 10^11 msat.
	switch multiplier {
	case 'm':
		return value * 100_000_000, nil
	case 'u':
		return value * 100_000, nil
	case 'n':
		return value * 100, nil
	case 'p':
		if value%10 != 0 {
			return 0, apperror.ErrInvalidInvoice("sub-millisatoshi amount")
		}
		return value / 10, nil
	default:
		return value * 100_000_000_000, nil
	}
}

// HTTPDoer is the slice of http.Client the resolvers need.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AddressResolver resolves Lightning addresses (LUD-16) into invoices.
type AddressResolver struct {
	client HTTPDoer
}

// NewAddressResolver creates an AddressResolver.
func NewAddressResolver(client HTTPDoer) *AddressResolver {
	return &AddressResolver{client: client}
}

type payRequestResponse struct {
	Tag         string `json:"tag"`
	Callback    string `json:"callback"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
}

type payCallbackResponse struct {
	PR     string `json:"pr"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Resolve fetches an invoice for amountMsat from the address's pay endpoint.
func (r *AddressResolver) Resolve(ctx context.Context, address string, amountMsat int64) (string, error) {
	return r.resolveWithScheme(ctx, address, amountMsat, "https")
}

func (r *AddressResolver) resolveWithScheme(ctx context.Context, address string, amountMsat int64, scheme string) (string, error) {
	user, domainPart, ok := strings.Cut(address, "@")
	if !ok || user == "" || domainPart == "" {
		return "", apperror.Validation("invalid lightning address")
	}

	wellKnown := fmt.Sprintf("%s://%s/.well-known/lnurlp/%s", scheme, domainPart, url.PathEscape(user))
	var payReq payRequestResponse
	if err := r.getJSON(ctx, wellKnown, &payReq); err != nil {
		return "", apperror.ErrPaymentFailed(fmt.Errorf("resolve %s: %w", address, err))
	}
	if payReq.Tag != "payRequest" || payReq.Callback == "" {
		return "", apperror.ErrPaymentFailed(fmt.Errorf("%s is not a pay endpoint", address))
	}

	if amountMsat < payReq.MinSendable || (payReq.MaxSendable > 0 && amountMsat > payReq.MaxSendable) {
		return "", apperror.ErrAmountOutOfBounds(payReq.MinSendable, payReq.MaxSendable)
	}

	cb, err := url.Parse(payReq.Callback)
	if err != nil {
		return "", apperror.ErrPaymentFailed(fmt.Errorf("bad callback url: %w", err))
	}
	q := cb.Query()
	q.Set("amount", strconv.FormatInt(amountMsat, 10))
	cb.RawQuery = q.Encode()

	var payResp payCallbackResponse
	if err := r.getJSON(ctx, cb.String(), &payResp); err != nil {
		return "", apperror.ErrPaymentFailed(fmt.Errorf("fetch invoice: %w", err))
	}
	if strings.EqualFold(payResp.Status, "ERROR") || payResp.PR == "" {
		return "", apperror.ErrPaymentFailed(fmt.Errorf("pay endpoint refused: %s", payResp.Reason))
	}
	return payResp.PR, nil
}

func (r *AddressResolver) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
