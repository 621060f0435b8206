package exchange

import (
	"sort"

	"github.com/xtrntr/resourceswap/internal/models"
)

// OfferFilter narrows ListOffers. Zero values match everything.
type OfferFilter struct {
	Offerer    models.Account
	ActiveOnly bool
}

// State is a consistent copy of the whole exchange
type State struct {
	Seq         int64                              `json:"seq"`
	Assets      []models.Asset                     `json:"assets"`
	Offers      []models.Offer                     `json:"offers"`
	Throttles   map[models.Account]models.Throttle `json:"throttles"`
	NextOfferID int64                              `json:"next_offer_id"`
}

// Policy returns the configured constants
func (e *Exchange) Policy() Policy {
	return e.policy
}

// Seq returns the sequence number of the last applied event
func (e *Exchange) Seq() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.seq
}

// OwnerOf returns the owner of assetID
func (e *Exchange) OwnerOf(assetID int64) (models.Account, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.OwnerOf(assetID)
}

// AssetsOwnedBy returns the ids owned by account, ascending
func (e *Exchange) AssetsOwnedBy(account models.Account) []int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.AssetsOwnedBy(account)
}

// BalanceOf returns how many assets account owns
func (e *Exchange) BalanceOf(account models.Account) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.BalanceOf(account)
}

// GetAsset returns a copy of the asset
func (e *Exchange) GetAsset(assetID int64) (models.Asset, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Asset(assetID)
}

// AssetHistory returns the provenance of assetID, oldest first
func (e *Exchange) AssetHistory(assetID int64) ([]models.Transfer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.History(assetID)
}

// GetApproved returns the single approved operator of assetID
func (e *Exchange) GetApproved(assetID int64) (models.Account, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.GetApproved(assetID)
}

// IsApprovedForAll reports whether owner granted operator rights over all its assets
func (e *Exchange) IsApprovedForAll(owner, operator models.Account) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.IsApprovedForAll(owner, operator)
}

// GetOffer returns a copy of the offer
func (e *Exchange) GetOffer(offerID int64) (models.Offer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	o, ok := e.offers[offerID]
	if !ok {
		return models.Offer{}, models.Fail(models.KindNotFound, "offer %d not found", offerID)
	}
	return *o, nil
}

// ListOffers returns matching offers in ascending id order
func (e *Exchange) ListOffers(f OfferFilter) []models.Offer {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := []models.Offer{}
	for _, o := range e.offers {
		if f.ActiveOnly && !o.Active {
			continue
		}
		if f.Offerer != "" && o.Offerer != f.Offerer {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextOfferID returns the id the next offer will receive
func (e *Exchange) NextOfferID() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nextOfferID
}

// ThrottleStateOf returns the throttle timestamps of account
func (e *Exchange) ThrottleStateOf(account models.Account) models.Throttle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.throttles[account]
}

// Snapshot copies the full state under one read lock
func (e *Exchange) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := State{
		Seq:         e.seq,
		Assets:      e.registry.Assets(),
		Offers:      make([]models.Offer, 0, len(e.offers)),
		Throttles:   make(map[models.Account]models.Throttle, len(e.throttles)),
		NextOfferID: e.nextOfferID,
	}
	for _, o := range e.offers {
		s.Offers = append(s.Offers, *o)
	}
	sort.Slice(s.Offers, func(i, j int) bool { return s.Offers[i].ID < s.Offers[j].ID })
	for a, t := range e.throttles {
		s.Throttles[a] = t
	}
	return s
}
