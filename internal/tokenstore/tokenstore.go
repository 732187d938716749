// Package tokenstore is a key/value store with per-key expiry used for
// magic links and sessions.
//
// Every implementation provides an atomic Take, so a value can be consumed
// exactly once even when callers race.
package tokenstore

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ErrNotFound is returned when a key is absent or past its TTL.
var ErrNotFound = errors.New("tokenstore: not found")

type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Take reads and deletes key in one atomic step.
	Take(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Purger is implemented by stores that need expired keys removed
// explicitly rather than by the backend itself.
type Purger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Key derives the storage key for a raw token. The raw token never reaches
// the backend, so a leaked dump cannot be replayed.
func Key(prefix, token string) string {
	sum := blake2b.Sum256([]byte(token))
	return prefix + ":" + hex.EncodeToString(sum[:])
}

type options struct {
	now func() time.Time
}

type Option func(*options)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

var errNonPositiveTTL = errors.New("tokenstore: ttl must be positive")
