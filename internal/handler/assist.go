package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/smartform/internal/assist"
	"github.com/dukerupert/smartform/internal/auth"
)

// AssistHandler exposes the metered text-generation actions.
type AssistHandler struct {
	svc    *assist.Service
	logger *slog.Logger
}

func NewAssistHandler(svc *assist.Service, logger *slog.Logger) *AssistHandler {
	return &AssistHandler{svc: svc, logger: logger}
}

func (h *AssistHandler) Autofill(w http.ResponseWriter, r *http.Request) {
	var req assist.AutofillRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "Failed to process resume")
		return
	}
	res, err := h.svc.Autofill(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		writeError(w, h.logger, err, "Failed to process resume")
		return
	}
	writeData(w, res)
}

func (h *AssistHandler) Improve(w http.ResponseWriter, r *http.Request) {
	var req assist.ImproveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "Failed to improve text")
		return
	}
	res, err := h.svc.Improve(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		writeError(w, h.logger, err, "Failed to improve text")
		return
	}
	writeData(w, res)
}

func (h *AssistHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req assist.ValidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "Failed to validate form")
		return
	}
	res, err := h.svc.Validate(r.Context(), auth.UserID(r.Context()), req.FormData)
	if err != nil {
		writeError(w, h.logger, err, "Failed to validate form")
		return
	}
	writeData(w, res)
}

func (h *AssistHandler) Usage(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Usage(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to get usage")
		return
	}
	writeData(w, res)
}
