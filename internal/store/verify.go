package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/xtrntr/resourceswap/internal/exchange"
	"github.com/xtrntr/resourceswap/internal/models"
)

// Verify compares the Postgres asset, grant and offer projections with the
// exchange rebuilt from the journal. Timestamps are not compared since
// Postgres keeps microseconds.
func (p Postgres) Verify(ctx context.Context, ex *exchange.Exchange) error {
	state := ex.Snapshot()
	operator := ex.Policy().Operator
	var errs []error

	owned := make(map[models.Account]int)
	for _, want := range state.Assets {
		owned[want.Owner]++
		got, err := p.GetAsset(ctx, want.ID)
		if err != nil {
			return fmt.Errorf("asset %d: %w", want.ID, err)
		}
		if got.Owner != want.Owner || got.Metadata != want.Metadata || got.ApprovedOperator != want.ApprovedOperator {
			errs = append(errs, fmt.Errorf("asset %d: projected owner %s operator %q, journal owner %s operator %q",
				want.ID, got.Owner, got.ApprovedOperator, want.Owner, want.ApprovedOperator))
		}
	}

	for owner, n := range owned {
		assets, err := p.GetAssetsByOwner(ctx, owner)
		if err != nil {
			return fmt.Errorf("assets of %s: %w", owner, err)
		}
		if len(assets) != n {
			errs = append(errs, fmt.Errorf("%s: projected %d assets, journal %d", owner, len(assets), n))
		}
		granted, err := p.IsApprovedForAll(ctx, owner, operator)
		if err != nil {
			return fmt.Errorf("grants of %s: %w", owner, err)
		}
		if granted != ex.IsApprovedForAll(owner, operator) {
			errs = append(errs, fmt.Errorf("%s: projected approval for all %v, journal %v", owner, granted, !granted))
		}
	}

	active := 0
	for _, want := range state.Offers {
		if want.Active {
			active++
		}
		got, err := p.GetOffer(ctx, want.ID)
		if err != nil {
			return fmt.Errorf("offer %d: %w", want.ID, err)
		}
		if got.Offerer != want.Offerer || got.OfferedAssetID != want.OfferedAssetID ||
			got.RequestedAssetID != want.RequestedAssetID || got.Active != want.Active {
			errs = append(errs, fmt.Errorf("offer %d: projected %+v, journal %+v", want.ID, got, want))
		}
	}
	projected, err := p.GetActiveOffers(ctx)
	if err != nil {
		return fmt.Errorf("active offers: %w", err)
	}
	if len(projected) != active {
		errs = append(errs, fmt.Errorf("projected %d active offers, journal %d", len(projected), active))
	}

	return errors.Join(errs...)
}
