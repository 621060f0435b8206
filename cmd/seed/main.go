package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/xtrntr/resourceswap/internal/auth"
	"github.com/xtrntr/resourceswap/internal/config"
	"github.com/xtrntr/resourceswap/internal/exchange"
	"github.com/xtrntr/resourceswap/internal/models"
	"github.com/xtrntr/resourceswap/internal/store"
)

const metadataCID = "bafybeidxmkohxp4mdrcg7iv6z37fxxp75zl5fg6zuqgutv6jjmozd2lztq"

type demoAsset struct {
	owner models.Account
	name  string
	tier  int
	value int64
}

var demoAssets = []demoAsset{
	{"trader1", "Lapin", 1, 100},
	{"trader1", "Hibou", 2, 250},
	{"trader2", "Singe", 2, 300},
	{"trader2", "Cerf", 3, 500},
}

// Seed the journal with demo accounts, assets and an open offer
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		config.Exitf("seed: %v", err)
	}
	log, err := cfg.NewLogger()
	if err != nil {
		config.Exitf("seed: %v", err)
	}

	s, err := store.Open(ctx, cfg, log)
	if err != nil {
		config.Exitf("seed: %v", err)
	}
	defer s.Close()

	ex, err := store.Restore(ctx, s, cfg.Policy(), log)
	if err != nil {
		config.Exitf("seed: %v", err)
	}
	if ex.Seq() > 0 {
		fmt.Printf("Journal already has %d events. No need to seed.\n", ex.Seq())
		printState(ex, time.Now().UTC())
		os.Exit(0)
	}

	authService := auth.NewAuthService(s, []byte(cfg.JWTSecret), cfg.TokenTTL, cfg.Operator)
	for _, username := range []string{"trader1", "trader2"} {
		if _, err := authService.Register(ctx, username, "password"); err != nil && !errors.Is(err, models.ErrUserExists) {
			config.Exitf("seed: register %s: %v", username, err)
		}
	}

	// Backdate the actions so every throttle has expired by now
	policy := ex.Policy()
	step := policy.LockDuration + time.Second
	if policy.Cooldown >= policy.LockDuration {
		step = policy.Cooldown + time.Second
	}
	at := time.Now().UTC().Add(-step * time.Duration(len(demoAssets)+1))

	ids := make(map[string]int64, len(demoAssets))
	for _, a := range demoAssets {
		meta := models.Metadata{
			Name:  a.name,
			Type:  "animal",
			Tier:  a.tier,
			Value: a.value,
			URI:   fmt.Sprintf("ipfs://%s/%s.json", metadataCID, a.name),
		}
		id, err := ex.MintResource(ctx, a.owner, meta, at)
		if err != nil {
			config.Exitf("seed: mint %s: %v", a.name, err)
		}
		ids[a.name] = id
		at = at.Add(step)
	}

	if err := ex.Approve(ctx, "trader1", ids["Lapin"], policy.Operator, at); err != nil {
		config.Exitf("seed: approve: %v", err)
	}
	if err := ex.SetApprovalForAll(ctx, "trader2", policy.Operator, true, at); err != nil {
		config.Exitf("seed: approval for all: %v", err)
	}
	if _, err := ex.CreateOffer(ctx, "trader1", ids["Lapin"], ids["Singe"], at); err != nil {
		config.Exitf("seed: create offer: %v", err)
	}

	fmt.Println("Successfully seeded the journal with demo assets!")
	printState(ex, time.Now().UTC())

	if pg, ok := s.(store.Postgres); ok {
		if err := pg.Verify(ctx, ex); err != nil {
			config.Exitf("seed: projections disagree with the journal: %v", err)
		}
		fmt.Println("\nPostgres projections match the journal.")
	}
}

func printState(ex *exchange.Exchange, now time.Time) {
	policy := ex.Policy()
	state := ex.Snapshot()

	fmt.Println("MAX_OWNED:", policy.MaxOwned)
	fmt.Println("COOLDOWN:", policy.Cooldown)
	fmt.Println("LOCK_DURATION:", policy.LockDuration)
	fmt.Println("NOW:", now.Format(time.RFC3339))

	owners := make(map[models.Account][]models.Asset)
	var order []models.Account
	for _, a := range state.Assets {
		if _, ok := owners[a.Owner]; !ok {
			order = append(order, a.Owner)
		}
		owners[a.Owner] = append(owners[a.Owner], a)
	}

	for _, account := range order {
		th := ex.ThrottleStateOf(account)
		fmt.Printf("\n=== %s ===\n", account)
		fmt.Println("balance:", ex.BalanceOf(account))
		fmt.Println("cooldown left:", th.CooldownRemaining(now, policy.Cooldown).Round(time.Second))
		fmt.Println("lock left:", th.LockRemaining(now).Round(time.Second))
		for _, a := range owners[account] {
			fmt.Printf("  #%d %s (%s, tier %d, value %d) %s\n",
				a.ID, a.Metadata.Name, a.Metadata.Type, a.Metadata.Tier, a.Metadata.Value, a.Metadata.URI)
		}
	}

	fmt.Println("\n=== offers ===")
	for _, o := range state.Offers {
		status := "inactive"
		if o.Active {
			status = "active"
		}
		fmt.Printf("  #%d %s offers #%d for #%d (%s)\n", o.ID, o.Offerer, o.OfferedAssetID, o.RequestedAssetID, status)
	}
	fmt.Println("next offer id:", state.NextOfferID)
}
