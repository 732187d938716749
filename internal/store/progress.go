package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/smartform/internal/apperr"
	"github.com/dukerupert/smartform/internal/form"
	"github.com/dukerupert/smartform/internal/model"
)

// ProgressStore holds at most one draft per user. Save replaces the whole
// draft; nothing is merged with what was stored before.
type ProgressStore struct {
	db *sql.DB
}

func NewProgressStore(db *sql.DB) *ProgressStore {
	return &ProgressStore{db: db}
}

func scanProgress(scanner interface{ Scan(...any) error }) (*model.FormProgress, error) {
	var p model.FormProgress
	var raw string
	var updatedAt int64
	if err := scanner.Scan(&p.UserID, &p.CurrentStep, &raw, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &p.FormData); err != nil {
		return nil, fmt.Errorf("decode form data: %w", err)
	}
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &p, nil
}

const progressCols = `user_id, current_step, form_data, updated_at`

func (s *ProgressStore) Save(ctx context.Context, userID string, step int, data form.Data) (*model.FormProgress, error) {
	if !form.ValidStep(step) {
		return nil, apperr.Validation("Invalid step", map[string]string{"currentStep": "must be between 1 and 4"})
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode form data: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO form_progress (user_id, current_step, form_data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   current_step = excluded.current_step,
		   form_data = excluded.form_data,
		   updated_at = excluded.updated_at`,
		userID, step, string(raw), now.UnixMilli(),
	)
	if err != nil {
		return nil, apperr.Store("upsert progress", err)
	}
	return &model.FormProgress{
		UserID:      userID,
		CurrentStep: step,
		FormData:    data,
		UpdatedAt:   time.UnixMilli(now.UnixMilli()).UTC(),
	}, nil
}

// Load returns the user's draft, or nil when there is none.
func (s *ProgressStore) Load(ctx context.Context, userID string) (*model.FormProgress, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+progressCols+` FROM form_progress WHERE user_id = ?`, userID)
	p, err := scanProgress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Store("load progress", err)
	}
	return p, nil
}

func (s *ProgressStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM form_progress WHERE user_id = ?`, userID); err != nil {
		return apperr.Store("clear progress", err)
	}
	return nil
}
