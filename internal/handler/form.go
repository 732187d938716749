package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/smartform/internal/auth"
	"github.com/dukerupert/smartform/internal/form"
	"github.com/dukerupert/smartform/internal/metrics"
	"github.com/dukerupert/smartform/internal/model"
	"github.com/dukerupert/smartform/internal/store"
	"github.com/dukerupert/smartform/internal/websocket"
)

type FormHandler struct {
	progress    *store.ProgressStore
	submissions *store.SubmissionStore
	hub         *websocket.Hub
	logger      *slog.Logger
}

func NewFormHandler(ps *store.ProgressStore, ss *store.SubmissionStore, hub *websocket.Hub, logger *slog.Logger) *FormHandler {
	return &FormHandler{progress: ps, submissions: ss, hub: hub, logger: logger}
}

type progressResponse struct {
	CurrentStep int       `json:"currentStep"`
	FormData    form.Data `json:"formData"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Save checkpoints a partial form. Only the structure is checked here; step
// rules apply when the user advances or submits.
func (h *FormHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentStep int       `json:"currentStep"`
		FormData    form.Data `json:"formData"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "Failed to save progress")
		return
	}

	userID := auth.UserID(r.Context())
	p, err := h.progress.Save(r.Context(), userID, req.CurrentStep, req.FormData)
	if err != nil {
		writeError(w, h.logger, err, "Failed to save progress")
		return
	}
	metrics.ProgressSaves.Inc()

	h.hub.Publish(userID, websocket.NewMessage("progress", "saved", "", map[string]any{
		"currentStep": p.CurrentStep,
		"updatedAt":   p.UpdatedAt.UnixMilli(),
	}))
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Progress saved successfully",
		Data:    progressResponse{CurrentStep: p.CurrentStep, FormData: p.FormData, UpdatedAt: p.UpdatedAt},
	})
}

// Progress returns the stored draft; data is omitted when there is none.
func (h *FormHandler) Progress(w http.ResponseWriter, r *http.Request) {
	p, err := h.progress.Load(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to load progress")
		return
	}
	if p == nil {
		writeJSON(w, http.StatusOK, envelope{Success: true})
		return
	}
	writeData(w, progressResponse{CurrentStep: p.CurrentStep, FormData: p.FormData, UpdatedAt: p.UpdatedAt})
}

func (h *FormHandler) ClearProgress(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if err := h.progress.Clear(r.Context(), userID); err != nil {
		writeError(w, h.logger, err, "Failed to clear progress")
		return
	}
	h.hub.Publish(userID, websocket.NewMessage("progress", "cleared", "", nil))
	writeMessage(w, "Progress cleared")
}

type submitResponse struct {
	SubmissionID string `json:"submissionId"`
	Message      string `json:"message"`
}

// Submit re-validates the whole form, stores it and clears the draft.
func (h *FormHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var data form.Data
	if err := decodeJSON(w, r, &data); err != nil {
		writeError(w, h.logger, err, "Failed to submit form")
		return
	}
	if err := form.ValidateComplete(data); err != nil {
		writeError(w, h.logger, err, "Failed to submit form")
		return
	}

	userID := auth.UserID(r.Context())
	sub, err := h.submissions.Submit(r.Context(), userID, data)
	if err != nil {
		writeError(w, h.logger, err, "Failed to submit form")
		return
	}
	metrics.Submissions.Inc()

	h.hub.Publish(userID, websocket.NewMessage("progress", "cleared", "", nil))
	h.hub.Publish(userID, websocket.NewMessage("submission", "created", sub.ID, nil))
	writeData(w, submitResponse{SubmissionID: sub.ID, Message: "Form submitted successfully"})
}

type submissionResponse struct {
	ID          string    `json:"id"`
	FormData    form.Data `json:"formData"`
	SubmittedAt time.Time `json:"submittedAt"`
}

func (h *FormHandler) Submissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.submissions.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to get submissions")
		return
	}
	writeData(w, toSubmissionResponses(subs))
}

func toSubmissionResponses(subs []model.FormSubmission) []submissionResponse {
	out := make([]submissionResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, submissionResponse{ID: s.ID, FormData: s.FormData, SubmittedAt: s.SubmittedAt})
	}
	return out
}
