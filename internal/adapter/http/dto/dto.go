package dto

// RegisterRequest is the request body for player registration.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

// LoginRequest is the request body for player login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterResponse is the response body for successful registration.
type RegisterResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// CreateDonationRequest is the request body for a donation invoice. An
// absent location targets the shared global pool.
type CreateDonationRequest struct {
	LocationID *string `json:"location_id,omitempty" binding:"omitempty,uuid"`
	AmountMsat int64   `json:"amount_msat" binding:"required,gt=0"`
	DonorName  *string `json:"donor_name,omitempty" binding:"omitempty,max=64"`
	Comment    *string `json:"comment,omitempty" binding:"omitempty,max=280"`
}

// DonationResponse is the response body for donation queries.
type DonationResponse struct {
	ID         string  `json:"id"`
	LocationID *string `json:"location_id,omitempty"`
	AmountMsat int64   `json:"amount_msat"`
	Invoice    string  `json:"invoice"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
	ExpiresAt  string  `json:"expires_at"`
	ReceivedAt *string `json:"received_at,omitempty"`
}

// ProgramKeysRequest is the body the card programming app posts together
// with the write token in the URL.
type ProgramKeysRequest struct {
	UID string `json:"uid" binding:"required,len=14,hexadecimal"`
}

// ProgramKeysResponse carries the derived key set back to the
// programming app. Keys are hex encoded and never persisted.
type ProgramKeysResponse struct {
	CardID     string `json:"card_id"`
	LnurlwBase string `json:"lnurlw_base"`
	Lnurlw     string `json:"lnurlw"`
	Version    int    `json:"version"`
	K0         string `json:"k0"`
	K1         string `json:"k1"`
	K2         string `json:"k2"`
	K3         string `json:"k3"`
	K4         string `json:"k4"`
}

// CreateCardRequest is the admin request body for minting a card row.
type CreateCardRequest struct {
	LocationID string `json:"location_id" binding:"required,uuid"`
}

// CreateCardResponse returns the minted card and its one-shot write token.
type CreateCardResponse struct {
	CardID     string `json:"card_id"`
	LocationID string `json:"location_id"`
	WriteToken string `json:"write_token"`
}

// CollectRequest is the request body for crediting a tap reward to the
// authenticated player's balance.
type CollectRequest struct {
	CardID string `json:"card_id" binding:"required,uuid"`
	Picc   string `json:"p" binding:"required,hexadecimal"`
	Cmac   string `json:"c" binding:"required,hexadecimal"`
}

// WalletWithdrawRequest is the request body for paying an invoice from
// the custodial balance.
type WalletWithdrawRequest struct {
	Invoice string `json:"invoice" binding:"required,min=10,max=2048"`
}

// WalletWithdrawAddressRequest withdraws to a Lightning address instead
// of a raw invoice.
type WalletWithdrawAddressRequest struct {
	Address    string `json:"address" binding:"required,email"`
	AmountMsat int64  `json:"amount_msat" binding:"required,gt=0"`
}

// WalletBalanceResponse is the response for the balance query.
type WalletBalanceResponse struct {
	BalanceMsat int64 `json:"balance_msat"`
}

// UserTransactionResponse is one custodial ledger entry.
type UserTransactionResponse struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	AmountMsat int64   `json:"amount_msat"`
	Status     string  `json:"status"`
	LocationID *string `json:"location_id,omitempty"`
	Invoice    *string `json:"invoice,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// TransactionListResponse wraps a page of custodial ledger entries.
type TransactionListResponse struct {
	Items  []UserTransactionResponse `json:"items"`
	Limit  int                       `json:"limit"`
	Offset int                       `json:"offset"`
}

// LocationStatsResponse is the public per-location stats row.
type LocationStatsResponse struct {
	LocationID      string  `json:"location_id"`
	Name            string  `json:"name"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	PoolBalanceMsat int64   `json:"pool_balance_msat"`
	AvailableMsat   int64   `json:"available_msat"`
	ClaimCount      int64   `json:"claim_count"`
	ClaimedMsat     int64   `json:"claimed_msat"`
	DonatedMsat     int64   `json:"donated_msat"`
}

// StatsResponse is the aggregate hunt stats payload.
type StatsResponse struct {
	Locations        []LocationStatsResponse `json:"locations"`
	TotalPoolMsat    int64                   `json:"total_pool_msat"`
	TotalClaimedMsat int64                   `json:"total_claimed_msat"`
	TotalClaims      int64                   `json:"total_claims"`
}
