// Package ratelimit meters text-generation calls per user over a rolling
// window backed by the usage ledger.
//
// CheckLimit is a pre-check: callers run the gated action and then Record
// it. The check and the record are not atomic, so N concurrent requests
// from one user can all pass the check and exceed the limit by up to N-1.
// The limit is soft by contract.
package ratelimit

import (
	"context"
	"time"

	"github.com/dukerupert/smartform/internal/apperr"
	"github.com/dukerupert/smartform/internal/metrics"
	"github.com/dukerupert/smartform/internal/model"
)

const (
	DefaultMax          = 10
	DefaultWindow       = 5 * time.Minute
	DefaultStoreTimeout = 5 * time.Second
)

// Ledger is the persistence the limiter reads and appends to.
type Ledger interface {
	Record(ctx context.Context, rec model.UsageRecord) (*model.UsageRecord, error)
	WindowStats(ctx context.Context, userID string, since time.Time) (model.UsageStats, error)
	OldestSince(ctx context.Context, userID string, since time.Time) (time.Time, bool, error)
}

// Result is the outcome of a limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type Limiter struct {
	ledger       Ledger
	max          int
	window       time.Duration
	storeTimeout time.Duration
	now          func() time.Time
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithPolicy overrides the default 10 calls per 5 minutes.
func WithPolicy(max int, window time.Duration) Option {
	return func(l *Limiter) {
		if max > 0 {
			l.max = max
		}
		if window > 0 {
			l.window = window
		}
	}
}

// WithStoreTimeout bounds every ledger call.
func WithStoreTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.storeTimeout = d
		}
	}
}

func New(ledger Ledger, opts ...Option) *Limiter {
	l := &Limiter{ledger: ledger, max: DefaultMax, window: DefaultWindow, storeTimeout: DefaultStoreTimeout, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Max() int { return l.max }

func (l *Limiter) Window() time.Duration { return l.window }

func (l *Limiter) Now() time.Time { return l.now() }

// Record appends a usage entry stamped with the current time.
func (l *Limiter) Record(ctx context.Context, userID string, endpoint model.Endpoint, tokens int, cost float64) error {
	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()
	_, err := l.ledger.Record(ctx, model.UsageRecord{
		UserID:       userID,
		Endpoint:     endpoint,
		TokensUsed:   tokens,
		CostEstimate: cost,
		CreatedAt:    l.now(),
	})
	if err != nil {
		return apperr.Store("record usage", err)
	}
	return nil
}

// WindowStats aggregates the user's usage over the trailing window.
func (l *Limiter) WindowStats(ctx context.Context, userID string, window time.Duration) (model.UsageStats, error) {
	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()
	st, err := l.ledger.WindowStats(ctx, userID, l.now().Add(-window))
	if err != nil {
		return model.UsageStats{}, apperr.Store("usage window stats", err)
	}
	return st, nil
}

// CheckLimit applies the configured policy.
func (l *Limiter) CheckLimit(ctx context.Context, userID string) (Result, error) {
	return l.Check(ctx, userID, l.max, l.window)
}

// Check reports whether userID may make another call given at most max
// calls per window. ResetAt is when the oldest call in the window leaves
// it, or now+window when the window is empty.
func (l *Limiter) Check(ctx context.Context, userID string, max int, window time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	now := l.now()
	since := now.Add(-window)

	st, err := l.ledger.WindowStats(ctx, userID, since)
	if err != nil {
		return Result{}, apperr.Store("usage window stats", err)
	}

	res := Result{
		Allowed:   st.Count < max,
		Remaining: max - st.Count,
		ResetAt:   now.Add(window),
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if st.Count > 0 {
		oldest, ok, err := l.ledger.OldestSince(ctx, userID, since)
		if err != nil {
			return Result{}, apperr.Store("oldest usage", err)
		}
		if ok {
			res.ResetAt = oldest.Add(window)
		}
	}

	if res.Allowed {
		metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
	} else {
		metrics.RateLimitDecisions.WithLabelValues("denied").Inc()
	}
	return res, nil
}
