package models

import "time"

// Account identifies an account (a wallet address, a username, or the engine itself)
type Account string

// Metadata is the immutable description recorded at mint time
type Metadata struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Tier  int    `json:"tier"`
	Value int64  `json:"value"`
	URI   string `json:"uri"` // Opaque, resolved outside the engine
}

// Asset represents a uniquely-owned resource
type Asset struct {
	ID               int64     `json:"id"`
	Owner            Account   `json:"owner"`
	Metadata         Metadata  `json:"metadata"`
	CreatedAt        time.Time `json:"created_at"`
	LastTransferAt   time.Time `json:"last_transfer_at"`
	ApprovedOperator Account   `json:"approved_operator,omitempty"`
}

// Transfer is one entry in an asset's provenance
type Transfer struct {
	From Account   `json:"from,omitempty"` // Empty on mint
	To   Account   `json:"to"`
	At   time.Time `json:"at"`
}

// Offer proposes swapping one owned asset for another
type Offer struct {
	ID               int64     `json:"id"`
	Offerer          Account   `json:"offerer"`
	OfferedAssetID   int64     `json:"offered_asset_id"`
	RequestedAssetID int64     `json:"requested_asset_id"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}

// Throttle holds the rate-limit timestamps of an account.
// The zero value means the account never acted and is not locked.
type Throttle struct {
	LastActionAt time.Time `json:"last_action_at"`
	LockedUntil  time.Time `json:"locked_until"`
}

// Locked reports whether throttled actions are blocked at now
func (t Throttle) Locked(now time.Time) bool {
	return t.LockedUntil.After(now)
}

// CooldownActive reports whether the cooldown since the last action is still running
func (t Throttle) CooldownActive(now time.Time, cooldown time.Duration) bool {
	if t.LastActionAt.IsZero() {
		return false
	}
	return t.LastActionAt.Add(cooldown).After(now)
}

// LockRemaining returns how long the lock still holds, zero if unlocked
func (t Throttle) LockRemaining(now time.Time) time.Duration {
	if !t.Locked(now) {
		return 0
	}
	return t.LockedUntil.Sub(now)
}

// CooldownRemaining returns how long the cooldown still runs, zero if elapsed
func (t Throttle) CooldownRemaining(now time.Time, cooldown time.Duration) time.Duration {
	if !t.CooldownActive(now, cooldown) {
		return 0
	}
	return t.LastActionAt.Add(cooldown).Sub(now)
}

// User represents a registered account holder
type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}
