package domain

import (
	"time"

	"github.com/google/uuid"
)

// LocationStatus represents the state of a treasure location.
type LocationStatus string

const (
	LocationStatusActive  LocationStatus = "ACTIVE"
	LocationStatusPaused  LocationStatus = "PAUSED"
	LocationStatusRetired LocationStatus = "RETIRED"
)

// Location represents a physical spot with an NFC tag and its own pool.
// Balances are never stored on this row; they are computed from pool
// credits and claims. The tag provisioning lifecycle lives on NfcCard.
type Location struct {
	ID              uuid.UUID      `json:"id"`
	Name            string         `json:"name"`
	Description     *string        `json:"description,omitempty"`
	Latitude        float64        `json:"latitude"`
	Longitude       float64        `json:"longitude"`
	MaxCapacityMsat int64          `json:"max_capacity_msat"`
	Status          LocationStatus `json:"status"`
	LastRefillAt    *time.Time     `json:"last_refill_at,omitempty"`
	LastWithdrawAt  *time.Time     `json:"last_withdraw_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// IsActive returns true if the location accepts taps and withdrawals.
func (l *Location) IsActive() bool {
	return l.Status == LocationStatusActive
}

// LocationStats summarizes one location for the public stats endpoint.
type LocationStats struct {
	LocationID      uuid.UUID `json:"location_id"`
	Name            string    `json:"name"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	PoolBalanceMsat int64     `json:"pool_balance_msat"`
	AvailableMsat   int64     `json:"available_msat"`
	ClaimCount      int64     `json:"claim_count"`
	ClaimedMsat     int64     `json:"claimed_msat"`
	DonatedMsat     int64     `json:"donated_msat"`
}
