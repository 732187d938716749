package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQL stores tokens in the sqlite "tokens" table.
type SQL struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQL(db *sql.DB, opts ...Option) *SQL {
	o := buildOptions(opts)
	return &SQL{db: db, now: o.now}
}

func (s *SQL) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errNonPositiveTTL
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, s.now().Add(ttl).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

// Get removes an entry it finds past its TTL.
func (s *SQL) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM tokens WHERE key = ?`,
		key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if now := s.now().UnixMilli(); expiresAt <= now {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM tokens WHERE key = ? AND expires_at <= ?`, key, now,
		); err != nil {
			return nil, fmt.Errorf("delete expired token: %w", err)
		}
		return nil, ErrNotFound
	}
	return value, nil
}

// Take relies on DELETE ... RETURNING so that only one caller can observe
// the row.
func (s *SQL) Take(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM tokens WHERE key = ? RETURNING value, expires_at`,
		key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take token: %w", err)
	}
	if expiresAt <= s.now().UnixMilli() {
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (s *SQL) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
