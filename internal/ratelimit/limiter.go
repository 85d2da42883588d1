package ratelimit

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/thebridgeproject/bridge/internal/metrics"
)

// DefaultCleanupProbability is the chance that a single Limit call sweeps
// expired entries from the store.
const DefaultCleanupProbability = 0.01

// Result is the outcome of one Limit call.
type Result struct {
	Category          string    `json:"category"`
	Allowed           bool      `json:"allowed"`
	Limit             int       `json:"limit"`
	RemainingRequests int       `json:"remainingRequests"`
	ResetTime         time.Time `json:"resetTime"`
}

// Summary is the {success, limit, remaining, reset} shape of a Result.
// Reset is the window end in Unix milliseconds.
type Summary struct {
	Success   bool  `json:"success"`
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
}

// Summary returns the alternate view of r.
func (r Result) Summary() Summary {
	return Summary{
		Success:   r.Allowed,
		Limit:     r.Limit,
		Remaining: r.RemainingRequests,
		Reset:     r.ResetTime.UnixMilli(),
	}
}

// RetryAfter is the time left until the window resets, never negative.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if d := r.ResetTime.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Options tunes limiter behaviour. Zero values select defaults.
type Options struct {
	Now  func() time.Time
	Rand func() float64
	// CleanupProbability < 0 disables opportunistic sweeps.
	CleanupProbability float64
	Logger             *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	if o.CleanupProbability == 0 {
		o.CleanupProbability = DefaultCleanupProbability
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Limiter applies one Rule to the counter space of one category.
type Limiter struct {
	category string
	rule     Rule
	store    Store
	opts     Options
}

// New creates a Limiter for category backed by store.
func New(category string, rule Rule, store Store, opts Options) *Limiter {
	return &Limiter{
		category: category,
		rule:     rule,
		store:    store,
		opts:     opts.withDefaults(),
	}
}

// Rule returns the rule this limiter enforces.
func (l *Limiter) Rule() Rule { return l.rule }

// Limit counts one request from identifier and reports whether it may
// proceed. It never fails: store errors are logged and resolved by the
// rule's FailClosed setting.
func (l *Limiter) Limit(ctx context.Context, identifier string) Result {
	now := l.opts.Now()
	if l.opts.CleanupProbability > 0 && l.opts.Rand() < l.opts.CleanupProbability {
		l.sweep(ctx, now)
	}

	key := Key{Category: l.category, Identifier: identifier}
	e, ok, err := l.store.Take(ctx, key, l.rule, now)
	if err != nil {
		metrics.RateLimitDecisions.WithLabelValues(l.category, "error").Inc()
		l.opts.Logger.Error("rate limit store failed",
			"category", l.category, "client", identifier, "fail_closed", l.rule.FailClosed, "err", err)
		return Result{
			Category:          l.category,
			Allowed:           !l.rule.FailClosed,
			Limit:             l.rule.Max,
			RemainingRequests: 0,
			ResetTime:         now.Add(l.rule.Window),
		}
	}

	res := Result{
		Category:  l.category,
		Allowed:   ok,
		Limit:     l.rule.Max,
		ResetTime: e.ResetTime,
	}
	if ok {
		res.RemainingRequests = max(l.rule.Max-e.Count, 0)
		metrics.RateLimitDecisions.WithLabelValues(l.category, "allowed").Inc()
	} else {
		metrics.RateLimitDecisions.WithLabelValues(l.category, "denied").Inc()
		l.opts.Logger.Info("rate limit exceeded",
			"category", l.category, "client", identifier, "reset", e.ResetTime)
	}
	return res
}

// Status reports the quota left for identifier without counting a request.
func (l *Limiter) Status(ctx context.Context, identifier string) (Result, error) {
	now := l.opts.Now()
	e, ok, err := l.store.Peek(ctx, Key{Category: l.category, Identifier: identifier}, now)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{
			Category:          l.category,
			Allowed:           true,
			Limit:             l.rule.Max,
			RemainingRequests: l.rule.Max,
			ResetTime:         now.Add(l.rule.Window),
		}, nil
	}
	remaining := max(l.rule.Max-e.Count, 0)
	return Result{
		Category:          l.category,
		Allowed:           remaining > 0,
		Limit:             l.rule.Max,
		RemainingRequests: remaining,
		ResetTime:         e.ResetTime,
	}, nil
}

func (l *Limiter) sweep(ctx context.Context, now time.Time) {
	n, err := l.store.Sweep(ctx, now)
	if err != nil {
		l.opts.Logger.Warn("rate limit sweep failed", "err", err)
		return
	}
	metrics.RateLimitSweeps.Inc()
	metrics.RateLimitEntriesSwept.Add(float64(n))
}
