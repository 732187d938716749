package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/dukerupert/smartform/internal/apperr"
)

const maxBodyBytes = 1 << 20

// envelope is the shape of every JSON API response.
type envelope struct {
	Success bool              `json:"success"`
	Data    any               `json:"data,omitempty"`
	Message string            `json:"message,omitempty"`
	Error   string            `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	ResetIn *int64            `json:"resetIn,omitempty"`
	ResetAt *int64            `json:"resetAt,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: msg})
}

// writeError maps err onto the envelope. Auth, validation and rate-limit
// messages reach the client; anything else is logged and replaced by
// fallback.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error, fallback string) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.Wrap(apperr.KindInternal, fallback, err)
	}

	body := envelope{Error: ae.Message, Fields: ae.Fields}
	switch ae.Kind {
	case apperr.KindAuth, apperr.KindValidation:
	case apperr.KindRateLimit:
		in := int64(math.Ceil(time.Until(ae.ResetAt).Seconds()))
		if in < 0 {
			in = 0
		}
		at := ae.ResetAt.UnixMilli()
		body.ResetIn, body.ResetAt = &in, &at
	default:
		logger.Error(fallback, "kind", ae.Kind.String(), "error", err)
		body = envelope{Error: fallback}
	}
	writeJSON(w, ae.Kind.HTTPStatus(), body)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("Request body is required", nil)
		}
		return apperr.Validation("Invalid JSON body", nil)
	}
	return nil
}
