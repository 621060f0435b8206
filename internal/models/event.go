package models

import "time"

// EventKind names a committed state change
type EventKind string

const (
	EventMinted         EventKind = "minted"
	EventApproved       EventKind = "approved"
	EventApprovalForAll EventKind = "approval_for_all"
	EventOfferCreated   EventKind = "offer_created"
	EventOfferAccepted  EventKind = "offer_accepted"
	EventOfferCancelled EventKind = "offer_cancelled"
)

// Event records one successful command. Replaying events in Seq order
// reproduces the engine state.
type Event struct {
	Seq     int64     `json:"seq"`
	ID      string    `json:"id"`
	Kind    EventKind `json:"kind"`
	Account Account   `json:"account"` // The caller
	At      time.Time `json:"at"`

	AssetID  int64     `json:"asset_id,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`

	Operator Account `json:"operator,omitempty"`
	Approved bool    `json:"approved,omitempty"`

	OfferID          int64   `json:"offer_id,omitempty"`
	OfferedAssetID   int64   `json:"offered_asset_id,omitempty"`
	RequestedAssetID int64   `json:"requested_asset_id,omitempty"`
	Counterparty     Account `json:"counterparty,omitempty"` // Offerer of an accepted offer

	// Throttle is the caller's throttle state after a throttled action.
	// Recording it keeps replay independent of later policy changes.
	Throttle *Throttle `json:"throttle,omitempty"`
}
