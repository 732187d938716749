package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/dukerupert/smartform/internal/apperr"
)

var (
	ErrLinkInvalid    = apperr.New(apperr.KindAuth, "Invalid or expired magic link")
	ErrSessionInvalid = apperr.New(apperr.KindAuth, "Invalid or expired session")
)

// generateToken returns 256 bits of randomness, hex encoded.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NormalizeEmail trims and lower-cases addr and checks that it parses as a
// bare address.
func NormalizeEmail(addr string) (string, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return "", apperr.Validation("Invalid email address", map[string]string{"email": "must be a valid email address"})
	}
	return addr, nil
}

// DefaultStoreTimeout bounds each token store round trip.
const DefaultStoreTimeout = 5 * time.Second

type settings struct {
	now          func() time.Time
	logger       *slog.Logger
	storeTimeout time.Duration
}

func (s settings) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

type Option func(*settings)

func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

func WithStoreTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func buildSettings(opts []Option) settings {
	s := settings{now: time.Now, logger: slog.Default(), storeTimeout: DefaultStoreTimeout}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
