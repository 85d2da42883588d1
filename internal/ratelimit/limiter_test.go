package ratelimit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/thebridgeproject/bridge/internal/ratelimit"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func quietOpts(c *fakeClock) ratelimit.Options {
	return ratelimit.Options{
		Now:                c.Now,
		CleanupProbability: -1,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestLimit_QuotaThenDeny(t *testing.T) {
	c := newClock()
	rule := ratelimit.Rule{Max: 5, Window: 15 * time.Minute}
	l := ratelimit.New(ratelimit.CategoryPrayer, rule, ratelimit.NewMemoryStore(), quietOpts(c))
	ctx := context.Background()

	first := l.Limit(ctx, "1.2.3.4")
	if !first.Allowed || first.RemainingRequests != 4 {
		t.Fatalf("call 1 = %+v, want allowed with 4 remaining", first)
	}
	wantReset := c.Now().Add(15 * time.Minute)
	if !first.ResetTime.Equal(wantReset) {
		t.Errorf("call 1 reset = %v, want %v", first.ResetTime, wantReset)
	}

	for i, want := range []int{3, 2, 1, 0} {
		c.Advance(time.Minute)
		res := l.Limit(ctx, "1.2.3.4")
		if !res.Allowed || res.RemainingRequests != want {
			t.Fatalf("call %d = %+v, want allowed with %d remaining", i+2, res, want)
		}
	}

	c.Advance(time.Minute)
	denied := l.Limit(ctx, "1.2.3.4")
	if denied.Allowed || denied.RemainingRequests != 0 {
		t.Fatalf("call 6 = %+v, want denied with 0 remaining", denied)
	}
	if !denied.ResetTime.Equal(first.ResetTime) {
		t.Errorf("denied reset = %v, want unchanged %v", denied.ResetTime, first.ResetTime)
	}
}

func TestLimit_FreshWindowAfterReset(t *testing.T) {
	c := newClock()
	rule := ratelimit.Rule{Max: 2, Window: time.Hour}
	l := ratelimit.New(ratelimit.CategoryContact, rule, ratelimit.NewMemoryStore(), quietOpts(c))
	ctx := context.Background()

	l.Limit(ctx, "a")
	l.Limit(ctx, "a")
	if res := l.Limit(ctx, "a"); res.Allowed {
		t.Fatalf("third call allowed: %+v", res)
	}

	// Exactly at reset the window is still open.
	c.Advance(time.Hour)
	if res := l.Limit(ctx, "a"); res.Allowed {
		t.Fatalf("call at reset time allowed: %+v", res)
	}

	c.Advance(time.Millisecond)
	res := l.Limit(ctx, "a")
	if !res.Allowed || res.RemainingRequests != 1 {
		t.Fatalf("after reset = %+v, want allowed with 1 remaining", res)
	}
	if want := c.Now().Add(time.Hour); !res.ResetTime.Equal(want) {
		t.Errorf("new reset = %v, want %v", res.ResetTime, want)
	}
}

func TestLimit_IdentifiersIsolated(t *testing.T) {
	c := newClock()
	rule := ratelimit.Rule{Max: 1, Window: 24 * time.Hour}
	l := ratelimit.New(ratelimit.CategoryWitness, rule, ratelimit.NewMemoryStore(), quietOpts(c))
	ctx := context.Background()

	l.Limit(ctx, "a")
	if res := l.Limit(ctx, "a"); res.Allowed {
		t.Fatalf("a should be exhausted: %+v", res)
	}
	if res := l.Limit(ctx, "b"); !res.Allowed || res.RemainingRequests != 0 {
		t.Fatalf("b = %+v, want allowed with 0 remaining", res)
	}
}

func TestLimit_CategoriesIsolated(t *testing.T) {
	c := newClock()
	store := ratelimit.NewMemoryStore()
	opts := quietOpts(c)
	letters := ratelimit.New(ratelimit.CategoryLetter, ratelimit.Rule{Max: 1, Window: time.Hour}, store, opts)
	contact := ratelimit.New(ratelimit.CategoryContact, ratelimit.Rule{Max: 1, Window: time.Hour}, store, opts)
	ctx := context.Background()

	letters.Limit(ctx, "a")
	if res := contact.Limit(ctx, "a"); !res.Allowed {
		t.Fatalf("contact should not share letter counter: %+v", res)
	}
}

func TestResult_Summary(t *testing.T) {
	reset := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	res := ratelimit.Result{Allowed: true, Limit: 5, RemainingRequests: 3, ResetTime: reset}
	got := res.Summary()
	want := ratelimit.Summary{Success: true, Limit: 5, Remaining: 3, Reset: reset.UnixMilli()}
	if got != want {
		t.Errorf("Summary() = %+v, want %+v", got, want)
	}
}

func TestLimit_OpportunisticSweep(t *testing.T) {
	c := newClock()
	store := ratelimit.NewMemoryStore()
	opts := quietOpts(c)
	opts.CleanupProbability = 0.5

	roll := 0.9
	opts.Rand = func() float64 { return roll }
	l := ratelimit.New(ratelimit.CategoryContact, ratelimit.Rule{Max: 3, Window: time.Minute}, store, opts)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		l.Limit(ctx, id)
	}
	c.Advance(2 * time.Minute)

	l.Limit(ctx, "d") // roll above probability: no sweep
	if got := store.Len(); got != 4 {
		t.Fatalf("entries without sweep = %d, want 4", got)
	}

	roll = 0.1
	l.Limit(ctx, "e")
	if got := store.Len(); got != 2 {
		t.Fatalf("entries after sweep = %d, want 2 (d, e)", got)
	}
}

type failingStore struct{}

func (failingStore) Take(context.Context, ratelimit.Key, ratelimit.Rule, time.Time) (ratelimit.Entry, bool, error) {
	return ratelimit.Entry{}, false, errors.New("connection refused")
}

func (failingStore) Peek(context.Context, ratelimit.Key, time.Time) (ratelimit.Entry, bool, error) {
	return ratelimit.Entry{}, false, errors.New("connection refused")
}

func (failingStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, errors.New("connection refused")
}

func TestLimit_StoreFailure(t *testing.T) {
	c := newClock()
	ctx := context.Background()

	open := ratelimit.New("letter", ratelimit.Rule{Max: 5, Window: time.Hour}, failingStore{}, quietOpts(c))
	if res := open.Limit(ctx, "a"); !res.Allowed {
		t.Errorf("fail-open limiter denied on store error: %+v", res)
	}

	closed := ratelimit.New("letter", ratelimit.Rule{Max: 5, Window: time.Hour, FailClosed: true}, failingStore{}, quietOpts(c))
	if res := closed.Limit(ctx, "a"); res.Allowed {
		t.Errorf("fail-closed limiter allowed on store error: %+v", res)
	}

	if _, err := open.Status(ctx, "a"); err == nil {
		t.Error("Status should surface store errors")
	}
}

func TestStatus_DoesNotConsume(t *testing.T) {
	c := newClock()
	l := ratelimit.New(ratelimit.CategoryContact, ratelimit.Rule{Max: 3, Window: time.Hour}, ratelimit.NewMemoryStore(), quietOpts(c))
	ctx := context.Background()

	st, err := l.Status(ctx, "a")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.RemainingRequests != 3 || !st.Allowed {
		t.Fatalf("fresh status = %+v, want 3 remaining", st)
	}

	l.Limit(ctx, "a")
	for i := 0; i < 3; i++ {
		st, _ = l.Status(ctx, "a")
	}
	if st.RemainingRequests != 2 {
		t.Errorf("status after one hit = %+v, want 2 remaining", st)
	}
}
