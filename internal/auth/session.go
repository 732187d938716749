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
	DefaultSessionTTL = 24 * time.Hour
	sessionPrefix     = "session"
)

// Sessions manages opaque session tokens with an absolute lifetime. Reading
// a session never extends it.
type Sessions struct {
	store tokenstore.Store
	ttl   time.Duration
	settings
}

func NewSessions(store tokenstore.Store, ttl time.Duration, opts ...Option) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{store: store, ttl: ttl, settings: buildSettings(opts)}
}

// TTL is the lifetime given to new sessions.
func (s *Sessions) TTL() time.Duration { return s.ttl }

func (s *Sessions) Create(ctx context.Context, userID, email string) (string, model.Session, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	token, err := generateToken()
	if err != nil {
		return "", model.Session{}, err
	}
	sess := model.Session{UserID: userID, Email: email, ExpiresAt: s.now().Add(s.ttl)}
	if err := s.put(ctx, token, sess); err != nil {
		return "", model.Session{}, apperr.Store("create session", err)
	}
	metrics.SessionsCreated.Inc()
	return token, sess, nil
}

// Validate returns the session for token. An expired entry is deleted on
// the way out.
func (s *Sessions) Validate(ctx context.Context, token string) (model.Session, error) {
	if token == "" {
		return model.Session{}, s.reject("missing")
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	key := tokenstore.Key(sessionPrefix, token)
	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return model.Session{}, s.reject("not_found")
	}
	if err != nil {
		return model.Session{}, apperr.Store("load session", err)
	}

	var sess model.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		s.discard(ctx, key)
		return model.Session{}, s.reject("malformed")
	}
	if !s.now().Before(sess.ExpiresAt) {
		s.discard(ctx, key)
		return model.Session{}, s.reject("expired")
	}
	return sess, nil
}

func (s *Sessions) Delete(ctx context.Context, token string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if token == "" {
		return nil
	}
	if err := s.store.Delete(ctx, tokenstore.Key(sessionPrefix, token)); err != nil {
		return apperr.Store("delete session", err)
	}
	return nil
}

// Refresh exchanges a live session token for a new one with a fresh
// lifetime. The old token stops working immediately. The old entry is taken
// atomically, so concurrent refreshes of one token yield one new session.
func (s *Sessions) Refresh(ctx context.Context, token string) (string, model.Session, error) {
	if token == "" {
		return "", model.Session{}, s.reject("missing")
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	key := tokenstore.Key(sessionPrefix, token)
	raw, err := s.store.Take(ctx, key)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return "", model.Session{}, s.reject("not_found")
	}
	if err != nil {
		return "", model.Session{}, apperr.Store("take session", err)
	}

	var old model.Session
	if err := json.Unmarshal(raw, &old); err != nil {
		return "", model.Session{}, s.reject("malformed")
	}
	now := s.now()
	if !now.Before(old.ExpiresAt) {
		return "", model.Session{}, s.reject("expired")
	}

	newToken, err := generateToken()
	if err != nil {
		s.restore(ctx, key, raw, old.ExpiresAt.Sub(now))
		return "", model.Session{}, err
	}
	sess := model.Session{UserID: old.UserID, Email: old.Email, ExpiresAt: now.Add(s.ttl)}
	if err := s.put(ctx, newToken, sess); err != nil {
		s.restore(ctx, key, raw, old.ExpiresAt.Sub(now))
		return "", model.Session{}, apperr.Store("refresh session", err)
	}
	metrics.SessionsCreated.Inc()
	return newToken, sess, nil
}

func (s *Sessions) put(ctx context.Context, token string, sess model.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, tokenstore.Key(sessionPrefix, token), raw, s.ttl)
}

func (s *Sessions) restore(ctx context.Context, key string, raw []byte, remaining time.Duration) {
	if remaining <= 0 {
		return
	}
	if err := s.store.Put(ctx, key, raw, remaining); err != nil {
		s.logger.Error("restore session after failed refresh", "error", err)
	}
}

func (s *Sessions) discard(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn("delete expired session", "error", err)
	}
}

func (s *Sessions) reject(reason string) error {
	metrics.AuthFailures.WithLabelValues("session", reason).Inc()
	s.logger.Debug("session rejected", "reason", reason)
	return ErrSessionInvalid
}
