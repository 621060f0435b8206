// Package registry tracks asset ownership, metadata, approvals and provenance.
package registry

import (
	"sort"
	"time"

	"github.com/xtrntr/resourceswap/internal/models"
)

// Registry owns the asset table. It is not safe for concurrent use; the
// exchange serializes every call.
type Registry struct {
	assets    map[int64]*models.Asset
	history   map[int64][]models.Transfer
	operators map[models.Account]map[models.Account]bool
	nextID    int64
}

// New creates an empty registry whose first asset id is 1
func New() *Registry {
	return &Registry{
		assets:    make(map[int64]*models.Asset),
		history:   make(map[int64][]models.Transfer),
		operators: make(map[models.Account]map[models.Account]bool),
		nextID:    1,
	}
}

// NextID returns the id the next Mint will assign
func (r *Registry) NextID() int64 {
	return r.nextID
}

// Supply returns the number of minted assets
func (r *Registry) Supply() int {
	return len(r.assets)
}

// Mint creates an asset owned by owner and returns its id
func (r *Registry) Mint(owner models.Account, meta models.Metadata, now time.Time) int64 {
	id := r.nextID
	r.nextID++

	r.assets[id] = &models.Asset{
		ID:             id,
		Owner:          owner,
		Metadata:       meta,
		CreatedAt:      now,
		LastTransferAt: now,
	}
	r.history[id] = []models.Transfer{{To: owner, At: now}}
	return id
}

// Exists reports whether id was minted
func (r *Registry) Exists(id int64) bool {
	_, ok := r.assets[id]
	return ok
}

// OwnerOf returns the current owner of id
func (r *Registry) OwnerOf(id int64) (models.Account, error) {
	a, ok := r.assets[id]
	if !ok {
		return "", models.Fail(models.KindNotFound, "asset %d not found", id)
	}
	return a.Owner, nil
}

// Asset returns a copy of the asset record
func (r *Registry) Asset(id int64) (models.Asset, error) {
	a, ok := r.assets[id]
	if !ok {
		return models.Asset{}, models.Fail(models.KindNotFound, "asset %d not found", id)
	}
	return *a, nil
}

// Assets returns copies of every asset in ascending id order
func (r *Registry) Assets() []models.Asset {
	out := make([]models.Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// History returns the ownership changes of id, oldest first
func (r *Registry) History(id int64) ([]models.Transfer, error) {
	h, ok := r.history[id]
	if !ok {
		return nil, models.Fail(models.KindNotFound, "asset %d not found", id)
	}
	out := make([]models.Transfer, len(h))
	copy(out, h)
	return out, nil
}

// Approve sets the single approved operator of id. An empty operator clears it.
func (r *Registry) Approve(caller models.Account, id int64, operator models.Account) error {
	a, ok := r.assets[id]
	if !ok {
		return models.Fail(models.KindNotFound, "asset %d not found", id)
	}
	if a.Owner != caller {
		return models.Fail(models.KindNotOwner, "%s does not own asset %d", caller, id)
	}
	a.ApprovedOperator = operator
	return nil
}

// GetApproved returns the single approved operator of id
func (r *Registry) GetApproved(id int64) (models.Account, error) {
	a, ok := r.assets[id]
	if !ok {
		return "", models.Fail(models.KindNotFound, "asset %d not found", id)
	}
	return a.ApprovedOperator, nil
}

// SetApprovalForAll grants or revokes operator rights over every asset of owner
func (r *Registry) SetApprovalForAll(owner, operator models.Account, approved bool) {
	if !approved {
		delete(r.operators[owner], operator)
		return
	}
	if r.operators[owner] == nil {
		r.operators[owner] = make(map[models.Account]bool)
	}
	r.operators[owner][operator] = true
}

// IsApprovedForAll reports whether owner granted operator rights over all its assets
func (r *Registry) IsApprovedForAll(owner, operator models.Account) bool {
	return r.operators[owner][operator]
}

// IsApproved reports whether operator may move id on behalf of its owner
func (r *Registry) IsApproved(id int64, operator models.Account) bool {
	a, ok := r.assets[id]
	if !ok || operator == "" {
		return false
	}
	return a.ApprovedOperator == operator || r.IsApprovedForAll(a.Owner, operator)
}

// Transfer moves id to newOwner and clears its single approval.
// Callers must have checked that id exists.
func (r *Registry) Transfer(id int64, newOwner models.Account, now time.Time) error {
	a, ok := r.assets[id]
	if !ok {
		return models.Fail(models.KindNotFound, "asset %d not found", id)
	}
	r.history[id] = append(r.history[id], models.Transfer{From: a.Owner, To: newOwner, At: now})
	a.Owner = newOwner
	a.LastTransferAt = now
	a.ApprovedOperator = ""
	return nil
}

// AssetsOwnedBy returns the ids currently owned by owner in ascending order
func (r *Registry) AssetsOwnedBy(owner models.Account) []int64 {
	ids := []int64{}
	for id, a := range r.assets {
		if a.Owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// BalanceOf returns the number of assets owned by owner
func (r *Registry) BalanceOf(owner models.Account) int {
	n := 0
	for _, a := range r.assets {
		if a.Owner == owner {
			n++
		}
	}
	return n
}
