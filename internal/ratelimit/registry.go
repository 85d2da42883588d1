package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/thebridgeproject/bridge/internal/metrics"
)

// ErrUnknownCategory is returned for a category with no configured rule.
var ErrUnknownCategory = errors.New("ratelimit: unknown category")

// Registry maps categories to limiters sharing one Store.
// Configure swaps the whole set atomically; counters live in the store and
// survive the swap.
type Registry struct {
	store    Store
	opts     Options
	limiters atomic.Pointer[map[string]*Limiter]
}

// NewRegistry builds a limiter for every rule.
func NewRegistry(store Store, rules map[string]Rule, opts Options) *Registry {
	r := &Registry{store: store, opts: opts.withDefaults()}
	r.Configure(rules)
	return r
}

// Configure replaces the active rules.
func (r *Registry) Configure(rules map[string]Rule) {
	m := make(map[string]*Limiter, len(rules))
	for cat, rule := range rules {
		m[cat] = New(cat, rule, r.store, r.opts)
	}
	r.limiters.Store(&m)
}

// Get returns the limiter for category.
func (r *Registry) Get(category string) (*Limiter, error) {
	l, ok := (*r.limiters.Load())[category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return l, nil
}

// Limit is Get(category).Limit(ctx, identifier).
func (r *Registry) Limit(ctx context.Context, category, identifier string) (Result, error) {
	l, err := r.Get(category)
	if err != nil {
		return Result{}, err
	}
	return l.Limit(ctx, identifier), nil
}

// Categories returns the configured categories in sorted order.
func (r *Registry) Categories() []string {
	m := *r.limiters.Load()
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Sweep removes expired entries from the shared store.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	n, err := r.store.Sweep(ctx, r.opts.Now())
	if err != nil {
		return 0, err
	}
	metrics.RateLimitSweeps.Inc()
	metrics.RateLimitEntriesSwept.Add(float64(n))
	return n, nil
}

// RunJanitor sweeps the store every interval until ctx is done.
// It complements the opportunistic sweeps done inside Limit.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				r.opts.Logger.Warn("rate limit janitor sweep failed", "err", err)
				continue
			}
			if n > 0 {
				r.opts.Logger.Debug("rate limit janitor swept entries", "removed", n)
			}
		}
	}
}
