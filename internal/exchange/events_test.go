package exchange

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/xtrntr/resourceswap/internal/models"
)

// memJournal records appended events and can be told to fail. With lossy
// set, Append records the event and still returns the error, like a commit
// whose acknowledgement never arrives.
type memJournal struct {
	mu         sync.Mutex
	events     []models.Event
	fail       error
	lossy      bool
	lookupFail error
}

func (j *memJournal) Append(ctx context.Context, ev models.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, existing := range j.events {
		if existing.Seq == ev.Seq {
			return fmt.Errorf("event %d already journaled", ev.Seq)
		}
	}
	if j.fail != nil && !j.lossy {
		return j.fail
	}
	j.events = append(j.events, ev)
	return j.fail
}

func (j *memJournal) EventID(ctx context.Context, seq int64) (string, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.lookupFail != nil {
		return "", false, j.lookupFail
	}
	for _, ev := range j.events {
		if ev.Seq == seq {
			return ev.ID, true, nil
		}
	}
	return "", false, nil
}

func (j *memJournal) set(fail error, lossy bool, lookupFail error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fail, j.lossy, j.lookupFail = fail, lossy, lookupFail
}

func playHistory(t *testing.T, ex *Exchange) {
	t.Helper()
	ctx := context.Background()
	op := ex.Policy().Operator

	mustMint(t, ex, "x", "Lapin", t0)
	mustMint(t, ex, "y", "Singe", t0)
	at := t0.Add(wait)
	mustApprove(t, ex, "x", 1, at)
	if err := ex.SetApprovalForAll(ctx, "y", op, true, at); err != nil {
		t.Fatalf("approval for all: %v", err)
	}
	first := mustOffer(t, ex, "x", 1, 2, at)
	if err := ex.CancelOffer(ctx, "x", first, at); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	second := mustOffer(t, ex, "x", 1, 2, at.Add(wait))
	if err := ex.AcceptOffer(ctx, "y", second, at.Add(wait)); err != nil {
		t.Fatalf("accept: %v", err)
	}
}

func TestExchange_JournalAndReplay(t *testing.T) {
	j := &memJournal{}
	ex := NewExchange(DefaultPolicy(), WithJournal(j))
	playHistory(t, ex)

	if len(j.events) != 8 {
		t.Fatalf("expected 8 journaled events, got %d", len(j.events))
	}
	for i, ev := range j.events {
		if ev.Seq != int64(i+1) {
			t.Errorf("event %d has seq %d", i, ev.Seq)
		}
		if ev.ID == "" {
			t.Errorf("event %d has no id", i)
		}
	}

	// A policy change after the fact must not alter replayed throttle state
	p := DefaultPolicy()
	p.LockDuration = time.Hour
	replayed := NewExchange(p)
	if err := replayed.Replay(j.events); err != nil {
		t.Fatalf("replay: %v", err)
	}

	want, got := ex.Snapshot(), replayed.Snapshot()
	if want.Seq != got.Seq || want.NextOfferID != got.NextOfferID {
		t.Fatalf("counters differ: %+v vs %+v", want, got)
	}
	for i := range want.Assets {
		if want.Assets[i] != got.Assets[i] {
			t.Errorf("asset %d differs: %+v vs %+v", i, want.Assets[i], got.Assets[i])
		}
	}
	for i := range want.Offers {
		if want.Offers[i] != got.Offers[i] {
			t.Errorf("offer %d differs: %+v vs %+v", i, want.Offers[i], got.Offers[i])
		}
	}
	for a, th := range want.Throttles {
		if got.Throttles[a] != th {
			t.Errorf("throttle of %s differs: %+v vs %+v", a, th, got.Throttles[a])
		}
	}
	if !replayed.IsApprovedForAll("y", p.Operator) {
		t.Error("operator grant lost on replay")
	}
}

func TestExchange_ReplayRejectsGaps(t *testing.T) {
	j := &memJournal{}
	ex := NewExchange(DefaultPolicy(), WithJournal(j))
	mustMint(t, ex, "x", "A", t0)
	mustMint(t, ex, "y", "B", t0)

	err := NewExchange(DefaultPolicy()).Replay(j.events[1:])
	if err == nil {
		t.Fatal("expected gap error")
	}

	bad := j.events[0]
	bad.AssetID = 7
	if err := NewExchange(DefaultPolicy()).Replay([]models.Event{bad}); err == nil {
		t.Fatal("expected id mismatch error")
	}
}

func TestExchange_JournalFailureAbortsCommand(t *testing.T) {
	j := &memJournal{}
	ex := NewExchange(DefaultPolicy(), WithJournal(j))
	mustMint(t, ex, "x", "A", t0)

	j.fail = errors.New("disk full")
	_, err := ex.MintResource(context.Background(), "y", meta("B"), t0)
	if !errors.Is(err, models.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if ex.BalanceOf("y") != 0 || ex.Seq() != 1 {
		t.Error("failed journal append must leave state unchanged")
	}
	if !ex.ThrottleStateOf("y").LastActionAt.IsZero() {
		t.Error("failed mint must not throttle the caller")
	}

	j.fail = nil
	if id := mustMint(t, ex, "y", "B", t0); id != 2 {
		t.Errorf("expected id 2 after recovery, got %d", id)
	}
}

func TestExchange_LostAppendAcknowledgement(t *testing.T) {
	j := &memJournal{}
	ex := NewExchange(DefaultPolicy(), WithJournal(j))
	mustMint(t, ex, "x", "A", t0)

	// The journal keeps event 2 but reports the write as cancelled
	j.set(context.Canceled, true, nil)
	id, err := ex.MintResource(context.Background(), "y", meta("B"), t0)
	if err != nil {
		t.Fatalf("recorded mint must succeed, got %v", err)
	}
	if id != 2 || ex.Seq() != 2 {
		t.Fatalf("expected asset 2 at seq 2, got asset %d at seq %d", id, ex.Seq())
	}

	j.set(nil, false, nil)
	for i, account := range []models.Account{"p", "q", "r"} {
		if got := mustMint(t, ex, account, "C", t0); got != int64(i+3) {
			t.Errorf("expected asset %d, got %d", i+3, got)
		}
	}
	assertMatchesJournal(t, ex, j)
}

func TestExchange_UnconfirmedAppendIsSettled(t *testing.T) {
	tests := []struct {
		name     string
		lossy    bool
		balanceY int
	}{
		{"Recorded", true, 1},
		{"NotRecorded", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &memJournal{}
			ex := NewExchange(DefaultPolicy(), WithJournal(j))
			mustMint(t, ex, "x", "A", t0)

			j.set(errors.New("connection reset"), tt.lossy, errors.New("journal unreachable"))
			_, err := ex.MintResource(context.Background(), "y", meta("B"), t0)
			if !errors.Is(err, models.ErrInternal) {
				t.Fatalf("expected internal error, got %v", err)
			}

			// Still unreachable: commands fail instead of guessing
			j.set(nil, false, errors.New("journal unreachable"))
			if _, err := ex.MintResource(context.Background(), "z", meta("C"), t0); !errors.Is(err, models.ErrInternal) {
				t.Fatalf("expected internal error while unsettled, got %v", err)
			}

			j.set(nil, false, nil)
			id := mustMint(t, ex, "z", "C", t0)
			if want := int64(2 + tt.balanceY); id != want {
				t.Errorf("expected asset %d, got %d", want, id)
			}
			if got := ex.BalanceOf("y"); got != tt.balanceY {
				t.Errorf("expected y to own %d assets, got %d", tt.balanceY, got)
			}
			assertMatchesJournal(t, ex, j)
		})
	}
}

func TestExchange_JournalIgnoresCallerCancellation(t *testing.T) {
	j := &memJournal{}
	ex := NewExchange(DefaultPolicy(), WithJournal(j))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ex.MintResource(ctx, "x", meta("A"), t0); err != nil {
		t.Fatalf("mint with a cancelled caller context: %v", err)
	}
	assertMatchesJournal(t, ex, j)
}

// assertMatchesJournal replays j and compares the result with ex
func assertMatchesJournal(t *testing.T, ex *Exchange, j *memJournal) {
	t.Helper()
	replayed := NewExchange(ex.Policy())
	if err := replayed.Replay(j.events); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !reflect.DeepEqual(ex.Snapshot(), replayed.Snapshot()) {
		t.Errorf("state diverged from journal:\n%+v\n%+v", ex.Snapshot(), replayed.Snapshot())
	}
}

func TestExchange_Subscribe(t *testing.T) {
	ex := NewExchange(DefaultPolicy())
	events, unsubscribe := ex.Subscribe()

	mustMint(t, ex, "x", "A", t0)

	select {
	case ev := <-events:
		if ev.Kind != models.EventMinted || ev.AssetID != 1 || ev.Account != "x" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-events; ok {
		t.Error("channel should be closed after unsubscribe")
	}

	// Publishing with no subscribers and with a full subscriber must not block
	_, _ = ex.Subscribe()
	for i := 0; i < subscriberBuffer+5; i++ {
		ex.Approve(context.Background(), "x", 1, "op", t0)
	}
}

func TestExchange_ConcurrentAccepts(t *testing.T) {
	ex := NewExchange(DefaultPolicy())
	ctx := context.Background()

	mustMint(t, ex, "x", "A", t0)
	mustMint(t, ex, "y", "B", t0)
	at := t0.Add(wait)
	mustApprove(t, ex, "x", 1, at)
	mustApprove(t, ex, "y", 2, at)
	offerID := mustOffer(t, ex, "x", 1, 2, at)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ex.AcceptOffer(ctx, "y", offerID, at); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			ex.OwnerOf(1)
			ex.AssetsOwnedBy("x")
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one accept to succeed, got %d", successes)
	}
	if owner, _ := ex.OwnerOf(1); owner != "y" {
		t.Errorf("expected y to own 1, got %s", owner)
	}
}
