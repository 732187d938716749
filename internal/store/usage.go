package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/smartform/internal/apperr"
	"github.com/dukerupert/smartform/internal/model"
)

// UsageStore is the append-only ledger of metered calls. Timestamps are
// unix milliseconds and windows are exclusive at the lower bound.
type UsageStore struct {
	db *sql.DB
}

func NewUsageStore(db *sql.DB) *UsageStore {
	return &UsageStore{db: db}
}

func (s *UsageStore) Record(ctx context.Context, rec model.UsageRecord) (*model.UsageRecord, error) {
	if !rec.Endpoint.Valid() {
		return nil, fmt.Errorf("record usage: unknown endpoint %q", rec.Endpoint)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_usage (id, user_id, endpoint, tokens_used, cost_estimate, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, string(rec.Endpoint), rec.TokensUsed, rec.CostEstimate, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, apperr.Store("insert usage", err)
	}
	rec.CreatedAt = time.UnixMilli(rec.CreatedAt.UnixMilli()).UTC()
	return &rec, nil
}

// WindowStats aggregates every record for userID created after since.
func (s *UsageStore) WindowStats(ctx context.Context, userID string, since time.Time) (model.UsageStats, error) {
	var st model.UsageStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(tokens_used), 0), COALESCE(SUM(cost_estimate), 0)
		 FROM ai_usage WHERE user_id = ? AND created_at > ?`,
		userID, since.UnixMilli(),
	).Scan(&st.Count, &st.TotalTokens, &st.TotalCost)
	if err != nil {
		return model.UsageStats{}, apperr.Store("usage window stats", err)
	}
	return st, nil
}

// OldestSince returns the creation time of the oldest record after since.
// ok is false when the window is empty.
func (s *UsageStore) OldestSince(ctx context.Context, userID string, since time.Time) (oldest time.Time, ok bool, err error) {
	var ms sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM ai_usage WHERE user_id = ? AND created_at > ?`,
		userID, since.UnixMilli(),
	).Scan(&ms)
	if err != nil {
		return time.Time{}, false, apperr.Store("oldest usage", err)
	}
	if !ms.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms.Int64).UTC(), true, nil
}

// ListByUser returns the user's most recent records, newest first.
func (s *UsageStore) ListByUser(ctx context.Context, userID string, limit int) ([]model.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, endpoint, tokens_used, cost_estimate, created_at
		 FROM ai_usage WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, apperr.Store("list usage", err)
	}
	defer rows.Close()

	var recs []model.UsageRecord
	for rows.Next() {
		var r model.UsageRecord
		var endpoint string
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.UserID, &endpoint, &r.TokensUsed, &r.CostEstimate, &createdAt); err != nil {
			return nil, apperr.Store("scan usage", err)
		}
		r.Endpoint = model.Endpoint(endpoint)
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
