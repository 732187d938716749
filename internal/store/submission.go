package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/smartform/internal/apperr"
	"github.com/dukerupert/smartform/internal/form"
	"github.com/dukerupert/smartform/internal/model"
)

type SubmissionStore struct {
	db *sql.DB
}

func NewSubmissionStore(db *sql.DB) *SubmissionStore {
	return &SubmissionStore{db: db}
}

func scanSubmission(scanner interface{ Scan(...any) error }) (*model.FormSubmission, error) {
	var sub model.FormSubmission
	var raw string
	var submittedAt int64
	if err := scanner.Scan(&sub.ID, &sub.UserID, &raw, &submittedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &sub.FormData); err != nil {
		return nil, fmt.Errorf("decode form data: %w", err)
	}
	sub.SubmittedAt = time.UnixMilli(submittedAt).UTC()
	return &sub, nil
}

const submissionCols = `id, user_id, form_data, submitted_at`

// Submit records a completed form and removes the user's draft in the same
// transaction. Callers validate completeness first.
func (s *SubmissionStore) Submit(ctx context.Context, userID string, data form.Data) (*model.FormSubmission, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode form data: %w", err)
	}
	sub := &model.FormSubmission{
		ID:          uuid.NewString(),
		UserID:      userID,
		FormData:    data,
		SubmittedAt: time.UnixMilli(time.Now().UnixMilli()).UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Store("begin tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO form_submissions (id, user_id, form_data, submitted_at) VALUES (?, ?, ?, ?)`,
		sub.ID, userID, string(raw), sub.SubmittedAt.UnixMilli(),
	)
	if err != nil {
		return nil, apperr.Store("insert submission", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM form_progress WHERE user_id = ?`, userID); err != nil {
		return nil, apperr.Store("clear progress", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Store("commit submission", err)
	}
	return sub, nil
}

func (s *SubmissionStore) GetByID(ctx context.Context, id string) (*model.FormSubmission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM form_submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Store("get submission", err)
	}
	return sub, nil
}

// ListByUser returns the user's submissions, newest first.
func (s *SubmissionStore) ListByUser(ctx context.Context, userID string) ([]model.FormSubmission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionCols+` FROM form_submissions WHERE user_id = ? ORDER BY submitted_at DESC, rowid DESC`,
		userID,
	)
	if err != nil {
		return nil, apperr.Store("list submissions", err)
	}
	defer rows.Close()

	var subs []model.FormSubmission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, apperr.Store("scan submission", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
