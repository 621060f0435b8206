package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/resourceswap/internal/models"
)

const (
	subscriberBuffer = 64
	journalTimeout   = 10 * time.Second
)

// commit journals ev, applies it and notifies subscribers. Caller holds e.mu.
// The journal write is detached from ctx so a departing client cannot cut
// it short.
func (e *Exchange) commit(ctx context.Context, ev models.Event) error {
	if e.journal == nil {
		ev.Seq = e.seq + 1
		ev.ID = uuid.NewString()
		return e.applyCommitted(ev)
	}

	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	ev.Seq = e.seq + 1
	ev.ID = uuid.NewString()

	if err := e.journal.Append(jctx, ev); err != nil {
		recorded, lerr := e.recorded(jctx, ev)
		switch {
		case lerr != nil:
			e.unsettled = &ev
			e.log.WithError(lerr).WithField("seq", ev.Seq).Error("cannot confirm journal append")
			return models.Wrap(models.KindInternal, "append event", err)
		case !recorded:
			return models.Wrap(models.KindInternal, "append event", err)
		}
		e.log.WithError(err).WithField("seq", ev.Seq).Warn("journal append reported failure but the event is recorded")
	}
	return e.applyCommitted(ev)
}

// settle resolves an append whose outcome was unknown: the event is applied
// when the journal holds it and dropped when it does not. Commands call it
// before validating so they see the settled state. Caller holds e.mu.
func (e *Exchange) settle(ctx context.Context) error {
	if e.unsettled == nil {
		return nil
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	ev := *e.unsettled
	recorded, err := e.recorded(jctx, ev)
	if err != nil {
		return models.Wrap(models.KindInternal, "journal out of sync", err)
	}
	e.unsettled = nil
	if !recorded {
		e.log.WithField("seq", ev.Seq).Info("unconfirmed event was not journaled")
		return nil
	}
	e.log.WithField("seq", ev.Seq).Info("applying unconfirmed event found in journal")
	return e.applyCommitted(ev)
}

// recorded reports whether the journal holds ev under its seq. Another
// event under the same seq means the journal has a second writer.
func (e *Exchange) recorded(ctx context.Context, ev models.Event) (bool, error) {
	id, found, err := e.journal.EventID(ctx, ev.Seq)
	if err != nil {
		return false, fmt.Errorf("look up event %d: %w", ev.Seq, err)
	}
	if found && id != ev.ID {
		return false, fmt.Errorf("seq %d is journaled as event %s, not %s", ev.Seq, id, ev.ID)
	}
	return found, nil
}

func (e *Exchange) applyCommitted(ev models.Event) error {
	if err := e.apply(ev); err != nil {
		return models.Wrap(models.KindInternal, "apply event", err)
	}
	e.publish(ev)
	return nil
}

// apply mutates state for one event. Every check runs before the first write
// so a failing event leaves state untouched.
func (e *Exchange) apply(ev models.Event) error {
	switch ev.Kind {
	case models.EventMinted:
		if ev.Metadata == nil {
			return fmt.Errorf("event %d: mint without metadata", ev.Seq)
		}
		if ev.AssetID != e.registry.NextID() {
			return fmt.Errorf("event %d: expected asset id %d, got %d", ev.Seq, e.registry.NextID(), ev.AssetID)
		}
		e.registry.Mint(ev.Account, *ev.Metadata, ev.At)

	case models.EventApproved:
		if err := e.registry.Approve(ev.Account, ev.AssetID, ev.Operator); err != nil {
			return fmt.Errorf("event %d: %w", ev.Seq, err)
		}

	case models.EventApprovalForAll:
		e.registry.SetApprovalForAll(ev.Account, ev.Operator, ev.Approved)

	case models.EventOfferCreated:
		if ev.OfferID != e.nextOfferID {
			return fmt.Errorf("event %d: expected offer id %d, got %d", ev.Seq, e.nextOfferID, ev.OfferID)
		}
		e.offers[ev.OfferID] = &models.Offer{
			ID:               ev.OfferID,
			Offerer:          ev.Account,
			OfferedAssetID:   ev.OfferedAssetID,
			RequestedAssetID: ev.RequestedAssetID,
			Active:           true,
			CreatedAt:        ev.At,
		}
		e.nextOfferID++

	case models.EventOfferAccepted:
		offer, err := e.activeOffer(ev.OfferID)
		if err != nil {
			return fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		if !e.registry.Exists(offer.OfferedAssetID) || !e.registry.Exists(offer.RequestedAssetID) {
			return fmt.Errorf("event %d: offer %d references a missing asset", ev.Seq, offer.ID)
		}
		// Both assets exist, so neither transfer can fail.
		e.registry.Transfer(offer.OfferedAssetID, ev.Account, ev.At)
		e.registry.Transfer(offer.RequestedAssetID, offer.Offerer, ev.At)
		offer.Active = false

	case models.EventOfferCancelled:
		offer, err := e.activeOffer(ev.OfferID)
		if err != nil {
			return fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		offer.Active = false

	default:
		return fmt.Errorf("event %d: unknown kind %q", ev.Seq, ev.Kind)
	}

	if ev.Throttle != nil {
		e.throttles[ev.Account] = *ev.Throttle
	}
	e.seq = ev.Seq
	return nil
}

// Replay rebuilds state from journaled events in sequence order. Events are
// not re-journaled or published. A failure leaves the exchange partially
// rebuilt and it should be discarded.
func (e *Exchange) Replay(events []models.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ev := range events {
		if ev.Seq != e.seq+1 {
			return fmt.Errorf("replay: expected seq %d, got %d", e.seq+1, ev.Seq)
		}
		if err := e.apply(ev); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
	}
	return nil
}

// Subscribe returns a channel of committed events and a func that ends the
// subscription. A subscriber that falls behind misses events.
func (e *Exchange) Subscribe() (<-chan models.Event, func()) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	id := e.nextSub
	e.nextSub++
	ch := make(chan models.Event, subscriberBuffer)
	e.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subsMu.Lock()
			delete(e.subs, id)
			e.subsMu.Unlock()
			close(ch)
		})
	}
}

func (e *Exchange) publish(ev models.Event) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	for id, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.log.WithFields(logrus.Fields{
				"subscriber": id,
				"seq":        ev.Seq,
				"kind":       ev.Kind,
			}).Warn("dropping event for slow subscriber")
		}
	}
}
