package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dukerupert/smartform/internal/apperr"
	"github.com/dukerupert/smartform/internal/metrics"
	"github.com/dukerupert/smartform/internal/model"
	"github.com/dukerupert/smartform/internal/tokenstore"
)

const (
	DefaultLinkTTL = 15 * time.Minute
	magicPrefix    = "magic"
)

// Links issues and redeems single-use login links.
type Links struct {
	store tokenstore.Store
	ttl   time.Duration
	settings
}

func NewLinks(store tokenstore.Store, ttl time.Duration, opts ...Option) *Links {
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	return &Links{store: store, ttl: ttl, settings: buildSettings(opts)}
}

// Issue creates a link token for email. It does not touch the user table;
// the caller decides whether the address is known.
func (l *Links) Issue(ctx context.Context, email string) (string, time.Time, error) {
	ctx, cancel := l.bound(ctx)
	defer cancel()
	token, err := generateToken()
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := l.now().Add(l.ttl)
	raw, err := json.Marshal(model.MagicLink{Email: email, ExpiresAt: expiresAt})
	if err != nil {
		return "", time.Time{}, err
	}
	if err := l.store.Put(ctx, tokenstore.Key(magicPrefix, token), raw, l.ttl); err != nil {
		return "", time.Time{}, apperr.Store("issue magic link", err)
	}
	return token, expiresAt, nil
}

// Redeem consumes token and returns the email it was issued for. The entry
// is removed before Redeem returns, whether or not it was still valid, so a
// token can succeed at most once.
func (l *Links) Redeem(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", l.reject("missing")
	}
	ctx, cancel := l.bound(ctx)
	defer cancel()

	raw, err := l.store.Take(ctx, tokenstore.Key(magicPrefix, token))
	if errors.Is(err, tokenstore.ErrNotFound) {
		return "", l.reject("not_found")
	}
	if err != nil {
		return "", apperr.Store("redeem magic link", err)
	}

	var ml model.MagicLink
	if err := json.Unmarshal(raw, &ml); err != nil {
		return "", l.reject("malformed")
	}
	if !l.now().Before(ml.ExpiresAt) {
		return "", l.reject("expired")
	}
	return ml.Email, nil
}

func (l *Links) reject(reason string) error {
	metrics.AuthFailures.WithLabelValues("magic_link", reason).Inc()
	l.logger.Info("magic link rejected", "reason", reason)
	return ErrLinkInvalid
}
