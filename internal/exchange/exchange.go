package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xtrntr/resourceswap/internal/models"
	"github.com/xtrntr/resourceswap/internal/registry"
)

// Policy holds the throttling constants and the engine's operator account
type Policy struct {
	Cooldown     time.Duration
	LockDuration time.Duration
	MaxOwned     int
	Operator     models.Account // Account that must be approved to move offered assets
	LockOnMint   bool
}

// DefaultPolicy returns a 10 minute cooldown and lock and 4 assets per account
func DefaultPolicy() Policy {
	return Policy{
		Cooldown:     600 * time.Second,
		LockDuration: 600 * time.Second,
		MaxOwned:     4,
		Operator:     "resourceswap",
		LockOnMint:   true,
	}
}

// Journal durably records committed events. Append runs inside the write
// critical section; an error aborts the command unless EventID shows the
// event was recorded anyway.
type Journal interface {
	Append(ctx context.Context, ev models.Event) error
	// EventID returns the id of the event journaled under seq
	EventID(ctx context.Context, seq int64) (string, bool, error)
}

// Option configures an Exchange
type Option func(*Exchange)

// WithJournal persists every event before it is applied
func WithJournal(j Journal) Option {
	return func(e *Exchange) { e.journal = j }
}

// WithLogger sets the logger used for subscriber warnings
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Exchange) { e.log = l }
}

// Exchange manages the asset registry, the offer book and throttle state.
// Every command holds the write lock for its whole validate-then-mutate
// sequence; queries hold the read lock.
type Exchange struct {
	mu          sync.RWMutex
	policy      Policy
	registry    *registry.Registry
	offers      map[int64]*models.Offer
	nextOfferID int64
	throttles   map[models.Account]models.Throttle
	seq         int64
	journal     Journal
	unsettled   *models.Event // Appended with an unknown outcome
	log         logrus.FieldLogger

	subsMu  sync.Mutex
	subs    map[int]chan models.Event
	nextSub int
}

// NewExchange creates an empty exchange
func NewExchange(policy Policy, opts ...Option) *Exchange {
	e := &Exchange{
		policy:      policy,
		registry:    registry.New(),
		offers:      make(map[int64]*models.Offer),
		nextOfferID: 1,
		throttles:   make(map[models.Account]models.Throttle),
		log:         logrus.StandardLogger(),
		subs:        make(map[int]chan models.Event),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MintResource creates an asset owned by caller
func (e *Exchange) MintResource(ctx context.Context, caller models.Account, meta models.Metadata, now time.Time) (int64, error) {
	if caller == "" {
		return 0, models.Fail(models.KindInvalidArgument, "caller is required")
	}
	if meta.Tier < 0 || meta.Value < 0 {
		return 0, models.Fail(models.KindInvalidArgument, "tier and value must not be negative")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.settle(ctx); err != nil {
		return 0, err
	}

	if err := e.checkThrottle(caller, now); err != nil {
		return 0, err
	}
	if e.policy.MaxOwned > 0 && len(e.registry.AssetsOwnedBy(caller)) >= e.policy.MaxOwned {
		return 0, models.Fail(models.KindMaxOwnedReached, "%s already owns %d assets", caller, e.policy.MaxOwned)
	}

	ev := models.Event{
		Kind:     models.EventMinted,
		Account:  caller,
		At:       now,
		AssetID:  e.registry.NextID(),
		Metadata: &meta,
		Throttle: e.afterAction(caller, now, e.policy.LockOnMint),
	}
	if err := e.commit(ctx, ev); err != nil {
		return 0, err
	}
	return ev.AssetID, nil
}

// Approve sets the operator allowed to move assetID. Not throttled.
func (e *Exchange) Approve(ctx context.Context, caller models.Account, assetID int64, operator models.Account, now time.Time) error {
	if assetID <= 0 {
		return models.Fail(models.KindInvalidArgument, "asset id must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.settle(ctx); err != nil {
		return err
	}

	owner, err := e.registry.OwnerOf(assetID)
	if err != nil {
		return err
	}
	if owner != caller {
		return models.Fail(models.KindNotOwner, "%s does not own asset %d", caller, assetID)
	}

	return e.commit(ctx, models.Event{
		Kind:     models.EventApproved,
		Account:  caller,
		At:       now,
		AssetID:  assetID,
		Operator: operator,
	})
}

// SetApprovalForAll grants or revokes operator rights over every asset of caller. Not throttled.
func (e *Exchange) SetApprovalForAll(ctx context.Context, caller, operator models.Account, approved bool, now time.Time) error {
	if caller == "" || operator == "" {
		return models.Fail(models.KindInvalidArgument, "caller and operator are required")
	}
	if caller == operator {
		return models.Fail(models.KindInvalidArgument, "cannot approve self as operator")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.settle(ctx); err != nil {
		return err
	}

	return e.commit(ctx, models.Event{
		Kind:     models.EventApprovalForAll,
		Account:  caller,
		At:       now,
		Operator: operator,
		Approved: approved,
	})
}

// CreateOffer lists caller's offered asset in exchange for the requested one
func (e *Exchange) CreateOffer(ctx context.Context, caller models.Account, offeredID, requestedID int64, now time.Time) (int64, error) {
	if offeredID <= 0 || requestedID <= 0 {
		return 0, models.Fail(models.KindInvalidArgument, "asset ids must be positive")
	}
	if offeredID == requestedID {
		return 0, models.Fail(models.KindInvalidArgument, "offered and requested asset must differ")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.settle(ctx); err != nil {
		return 0, err
	}

	if err := e.checkThrottle(caller, now); err != nil {
		return 0, err
	}
	owner, err := e.registry.OwnerOf(offeredID)
	if err != nil {
		return 0, err
	}
	if !e.registry.Exists(requestedID) {
		return 0, models.Fail(models.KindNotFound, "asset %d not found", requestedID)
	}
	if owner != caller {
		return 0, models.Fail(models.KindNotOwner, "%s does not own asset %d", caller, offeredID)
	}
	if !e.registry.IsApproved(offeredID, e.policy.Operator) {
		return 0, models.Fail(models.KindNotApproved, "asset %d is not approved for %s", offeredID, e.policy.Operator)
	}

	ev := models.Event{
		Kind:             models.EventOfferCreated,
		Account:          caller,
		At:               now,
		OfferID:          e.nextOfferID,
		OfferedAssetID:   offeredID,
		RequestedAssetID: requestedID,
		Throttle:         e.afterAction(caller, now, false),
	}
	if err := e.commit(ctx, ev); err != nil {
		return 0, err
	}
	return ev.OfferID, nil
}

// AcceptOffer swaps the two assets of an active offer and locks the caller
func (e *Exchange) AcceptOffer(ctx context.Context, caller models.Account, offerID int64, now time.Time) error {
	if offerID <= 0 {
		return models.Fail(models.KindInvalidArgument, "offer id must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.settle(ctx); err != nil {
		return err
	}

	if err := e.checkThrottle(caller, now); err != nil {
		return err
	}
	offer, err := e.activeOffer(offerID)
	if err != nil {
		return err
	}
	requestedOwner, err := e.registry.OwnerOf(offer.RequestedAssetID)
	if err != nil {
		return err
	}
	if requestedOwner != caller {
		return models.Fail(models.KindNotOwner, "%s does not own requested asset %d", caller, offer.RequestedAssetID)
	}
	offeredOwner, err := e.registry.OwnerOf(offer.OfferedAssetID)
	if err != nil {
		return err
	}
	if offeredOwner != offer.Offerer {
		return models.Fail(models.KindOfferStale, "offerer %s no longer owns asset %d", offer.Offerer, offer.OfferedAssetID)
	}
	if !e.registry.IsApproved(offer.OfferedAssetID, e.policy.Operator) {
		return models.Fail(models.KindNotApproved, "offered asset %d is not approved for %s", offer.OfferedAssetID, e.policy.Operator)
	}
	if !e.registry.IsApproved(offer.RequestedAssetID, e.policy.Operator) {
		return models.Fail(models.KindNotApproved, "requested asset %d is not approved for %s", offer.RequestedAssetID, e.policy.Operator)
	}

	return e.commit(ctx, models.Event{
		Kind:             models.EventOfferAccepted,
		Account:          caller,
		At:               now,
		OfferID:          offer.ID,
		OfferedAssetID:   offer.OfferedAssetID,
		RequestedAssetID: offer.RequestedAssetID,
		Counterparty:     offer.Offerer,
		Throttle:         e.afterAction(caller, now, true),
	})
}

// CancelOffer deactivates an offer. Only the offerer may cancel; throttling
// does not apply.
func (e *Exchange) CancelOffer(ctx context.Context, caller models.Account, offerID int64, now time.Time) error {
	if offerID <= 0 {
		return models.Fail(models.KindInvalidArgument, "offer id must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.settle(ctx); err != nil {
		return err
	}

	offer, err := e.activeOffer(offerID)
	if err != nil {
		return err
	}
	if offer.Offerer != caller {
		return models.Fail(models.KindNotOwner, "%s did not create offer %d", caller, offerID)
	}

	return e.commit(ctx, models.Event{
		Kind:    models.EventOfferCancelled,
		Account: caller,
		At:      now,
		OfferID: offerID,
	})
}

func (e *Exchange) activeOffer(offerID int64) (*models.Offer, error) {
	offer, ok := e.offers[offerID]
	if !ok {
		return nil, models.Fail(models.KindNotFound, "offer %d not found", offerID)
	}
	if !offer.Active {
		return nil, models.Fail(models.KindOfferInactive, "offer %d is inactive", offerID)
	}
	return offer, nil
}
