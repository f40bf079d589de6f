package ports

import (
	"context"
	"time"

	"satshunt/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// KeyService derives per-card AES key sets from the master secret.
// Derivation is deterministic so no key material is ever persisted.
type KeyService interface {
	DeriveKeys(cardID uuid.UUID, version int) (*domain.CardKeys, error)
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(userID uuid.UUID, username string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID   uuid.UUID
	Username string
}

// ChallengeStore manages one-shot withdraw challenges keyed by k1.
type ChallengeStore interface {
	Put(ctx context.Context, ch *domain.WithdrawChallenge, ttl time.Duration) error
	// Take atomically fetches and deletes the challenge. Returns nil when
	// the k1 is unknown, expired or already consumed.
	Take(ctx context.Context, k1 string) (*domain.WithdrawChallenge, error)
}

// IdempotencyCache is the Redis fast path for duplicate callback detection.
// The partial unique index on pending withdrawals is the authority.
type IdempotencyCache interface {
	// CheckAndSet returns true if the key is new, false if already seen.
	CheckAndSet(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// RateLimitStore tracks request counts per client key.
type RateLimitStore interface {
	// Allow increments the counter for key and reports whether the request
	// fits within limit per window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// --- Service Ports (Business Logic) ---

// TapResult is the outcome of a successfully verified tap.
type TapResult struct {
	Card     *domain.NfcCard
	Location *domain.Location
	Scan     *domain.Scan
	Counter  int64
}

// TagAuthService verifies NTAG424 SUN messages.
type TagAuthService interface {
	// VerifyTap authenticates one tap: decrypts the PICC data, checks the
	// CMAC, enforces counter monotonicity and records the scan.
	VerifyTap(ctx context.Context, cardID uuid.UUID, piccHex, cmacHex string) (*TapResult, error)
}

// CardService provisions NFC cards.
type CardService interface {
	// CreateCard mints a card row bound to a location plus a one-shot
	// write token for the programming app.
	CreateCard(ctx context.Context, locationID uuid.UUID) (*domain.NfcCard, string, error)
	// ProgramKeys exchanges a write token for the derived key set. The
	// token is invalidated in the same step.
	ProgramKeys(ctx context.Context, writeToken string, uid string) (*CardProgramResponse, error)
	// RotateKeys bumps the card's key version and issues a fresh write
	// token so the tag can be reprogrammed with a new key set.
	RotateKeys(ctx context.Context, cardID uuid.UUID) (*domain.NfcCard, string, error)
}

// CardProgramResponse is the payload the programming app writes to the tag.
type CardProgramResponse struct {
	CardID     uuid.UUID
	LnurlwBase string // URL template the tag will emit
	Lnurlw     string // bech32 LNURL form of the base URL, for static QR
	Keys       *domain.CardKeys
	Version    int
}

// LedgerService owns all pool balance math and money movement.
type LedgerService interface {
	// PoolBalance returns credits minus claims for the location.
	PoolBalance(ctx context.Context, locationID uuid.UUID) (int64, error)
	// Available returns the throttled withdrawable amount: the pool
	// capped at max capacity, scaled by the fill ratio, minus pending
	// reservations.
	Available(ctx context.Context, locationID uuid.UUID) (int64, error)
	// Reserve atomically checks availability and inserts a pending
	// withdrawal under the location row lock.
	Reserve(ctx context.Context, req ReserveRequest) (*domain.PendingWithdrawal, error)
	// Commit converts a pending withdrawal into a claim. Idempotent:
	// committing a completed withdrawal is a no-op.
	Commit(ctx context.Context, withdrawalID uuid.UUID, paymentHash string) error
	// Release frees a reservation after a failed payment.
	Release(ctx context.Context, withdrawalID uuid.UUID, reason string) error
	// AddCredit appends a pool credit and stamps the refill time.
	AddCredit(ctx context.Context, locationID uuid.UUID, amountMsat int64, source domain.CreditSource, donationID *uuid.UUID) error
	// CreditInTx appends a pool credit inside the caller's transaction,
	// taking the location row lock. Donation settlement uses it so the
	// status flip and the credit commit atomically.
	CreditInTx(ctx context.Context, tx pgx.Tx, locationID uuid.UUID, amountMsat int64, source domain.CreditSource, donationID *uuid.UUID) error
}

// ReserveRequest holds validated input for a pool reservation.
type ReserveRequest struct {
	LocationID uuid.UUID
	ClaimantID uuid.UUID
	ScanID     *uuid.UUID
	Invoice    string
	AmountMsat int64
}

// WithdrawRequestResponse is the LUD-03 first-leg payload.
type WithdrawRequestResponse struct {
	Tag                 string `json:"tag"`
	Callback            string `json:"callback"`
	K1                  string `json:"k1"`
	MinWithdrawableMsat int64  `json:"minWithdrawable"`
	MaxWithdrawableMsat int64  `json:"maxWithdrawable"`
	DefaultDescription  string `json:"defaultDescription"`
}

// WithdrawService drives the LNURL-withdraw protocol.
type WithdrawService interface {
	// InitialRequest handles a tap: verifies the tag and mints a
	// challenge bounded by the location's available balance.
	InitialRequest(ctx context.Context, cardID uuid.UUID, piccHex, cmacHex string) (*WithdrawRequestResponse, error)
	// Callback handles the wallet's second leg: validates the invoice
	// against the challenge, reserves funds and pays.
	Callback(ctx context.Context, k1, invoice string) error
	// Sweep reconciles stale pending withdrawals against the payer.
	Sweep(ctx context.Context) error
}

// PaymentState is the payer's view of an outgoing payment.
type PaymentState string

const (
	PaymentStateSucceeded PaymentState = "SUCCEEDED"
	PaymentStateFailed    PaymentState = "FAILED"
	PaymentStatePending   PaymentState = "PENDING"
)

// PaymentResult is the outcome of a payer call.
type PaymentResult struct {
	PaymentHash string
	State       PaymentState
	FailReason  string
}

// Invoice is a freshly created incoming invoice.
type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	ExpiresAt      time.Time
}

// PayerService talks to the upstream Lightning node or custodial wallet API.
type PayerService interface {
	PayInvoice(ctx context.Context, invoice string) (*PaymentResult, error)
	CheckPayment(ctx context.Context, paymentHash string) (*PaymentResult, error)
	CreateInvoice(ctx context.Context, amountMsat int64, memo string, ttl time.Duration) (*Invoice, error)
	// CheckInvoice reports whether an incoming invoice settled.
	CheckInvoice(ctx context.Context, paymentHash string) (bool, error)
}

// DonationService creates donation invoices and credits pools on settle.
type DonationService interface {
	CreateDonation(ctx context.Context, req CreateDonationRequest) (*domain.Donation, error)
	GetDonation(ctx context.Context, id uuid.UUID) (*domain.Donation, error)
	// Poll runs one settlement pass over open donations.
	Poll(ctx context.Context) error
}

// CreateDonationRequest holds validated input for a donation invoice.
// A nil LocationID targets the shared global pool.
type CreateDonationRequest struct {
	LocationID *uuid.UUID
	AmountMsat int64
	DonorName  *string
	Comment    *string
}

// WalletService manages custodial player balances.
type WalletService interface {
	// Collect verifies a tap and credits the reward to the user balance
	// instead of paying an invoice.
	Collect(ctx context.Context, userID, cardID uuid.UUID, piccHex, cmacHex string) (*domain.UserTransaction, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	// Withdraw pays an invoice from the custodial balance.
	Withdraw(ctx context.Context, userID uuid.UUID, invoice string) (*domain.UserTransaction, error)
	// WithdrawToAddress resolves a Lightning address and withdraws to it.
	WithdrawToAddress(ctx context.Context, userID uuid.UUID, address string, amountMsat int64) (*domain.UserTransaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.UserTransaction, error)
	// Sweep resolves in-flight balance withdrawals against the payer:
	// settled ones complete, failed ones are refunded.
	Sweep(ctx context.Context) error
}

// AuthService defines player authentication business logic.
type AuthService interface {
	Register(ctx context.Context, username, password string) (*domain.User, error)
	Login(ctx context.Context, username, password string) (string, time.Time, error) // token, expiry, error
}

// ReportingService exposes public hunt statistics.
type ReportingService interface {
	LocationStats(ctx context.Context, locationID uuid.UUID) (*domain.LocationStats, error)
	AllStats(ctx context.Context) ([]domain.LocationStats, error)
}
