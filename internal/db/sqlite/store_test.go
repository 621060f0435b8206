package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/resourceswap/internal/exchange"
	"github.com/xtrntr/resourceswap/internal/models"
)

func openTempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resourceswap.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenTwiceKeepsMigrationsIdempotent(t *testing.T) {
	t.Parallel()

	store, path := openTempStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = again.Close()
}

func TestUsers(t *testing.T) {
	t.Parallel()

	store, _ := openTempStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, "alice", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.ID == 0 || user.Username != "alice" {
		t.Fatalf("unexpected user %+v", user)
	}

	if _, err := store.CreateUser(ctx, "alice", "other"); !errors.Is(err, models.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	got, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.PasswordHash != "hash" || got.ID != user.ID {
		t.Fatalf("unexpected user %+v", got)
	}
	if !got.CreatedAt.Equal(user.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, user.CreatedAt)
	}

	if _, err := store.GetUserByUsername(ctx, "nobody"); !errors.Is(err, models.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestAppendRejectsDuplicateSeq(t *testing.T) {
	t.Parallel()

	store, _ := openTempStore(t)
	ctx := context.Background()
	ev := models.Event{Seq: 1, ID: uuid.NewString(), Kind: models.EventMinted, Account: "x", At: time.Unix(1_700_000_000, 0).UTC()}

	if err := store.Append(ctx, ev); err != nil {
		t.Fatalf("append: %v", err)
	}
	ev.ID = uuid.NewString()
	if err := store.Append(ctx, ev); err == nil {
		t.Fatal("expected duplicate seq error")
	}
}

func TestEventID(t *testing.T) {
	t.Parallel()

	store, _ := openTempStore(t)
	ctx := context.Background()
	ev := models.Event{Seq: 1, ID: uuid.NewString(), Kind: models.EventMinted, Account: "x", At: time.Unix(1_700_000_000, 0).UTC()}
	if err := store.Append(ctx, ev); err != nil {
		t.Fatalf("append: %v", err)
	}

	id, found, err := store.EventID(ctx, 1)
	if err != nil || !found || id != ev.ID {
		t.Fatalf("EventID(1) = %q, %v, %v; want %q", id, found, err, ev.ID)
	}
	if _, found, err := store.EventID(ctx, 2); err != nil || found {
		t.Fatalf("EventID(2) = %v, %v; want not found", found, err)
	}
}

func TestJournalReplaysIntoExchange(t *testing.T) {
	t.Parallel()

	store, path := openTempStore(t)
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0).UTC()
	wait := 601 * time.Second

	ex := exchange.NewExchange(exchange.DefaultPolicy(), exchange.WithJournal(store))
	op := ex.Policy().Operator
	meta := models.Metadata{Name: "Lapin", Type: "animal", Tier: 1, Value: 100, URI: "ipfs://lapin"}

	if _, err := ex.MintResource(ctx, "x", meta, t0); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ex.MintResource(ctx, "y", meta, t0); err != nil {
		t.Fatalf("mint: %v", err)
	}
	at := t0.Add(wait)
	if err := ex.Approve(ctx, "x", 1, op, at); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ex.SetApprovalForAll(ctx, "y", op, true, at); err != nil {
		t.Fatalf("approval for all: %v", err)
	}
	offerID, err := ex.CreateOffer(ctx, "x", 1, 2, at)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if err := ex.AcceptOffer(ctx, "y", offerID, at); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_ = store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	events, err := reopened.LoadEvents(ctx)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(events))
	}

	restored := exchange.NewExchange(exchange.DefaultPolicy())
	if err := restored.Replay(events); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if owner, _ := restored.OwnerOf(1); owner != "y" {
		t.Errorf("owner of 1 = %s, want y", owner)
	}
	if owner, _ := restored.OwnerOf(2); owner != "x" {
		t.Errorf("owner of 2 = %s, want x", owner)
	}
	if restored.NextOfferID() != 2 || restored.Seq() != 6 {
		t.Errorf("counters not restored: next offer %d, seq %d", restored.NextOfferID(), restored.Seq())
	}
	if got, want := restored.ThrottleStateOf("y"), ex.ThrottleStateOf("y"); !got.LockedUntil.Equal(want.LockedUntil) {
		t.Errorf("lock of y = %v, want %v", got.LockedUntil, want.LockedUntil)
	}
}
