package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/smartform/internal/apperr"
	"github.com/dukerupert/smartform/internal/auth"
	"github.com/dukerupert/smartform/internal/model"
)

// SessionCookie holds the opaque session token.
const SessionCookie = "session_token"

// SessionValidator is satisfied by *auth.Sessions.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (model.Session, error)
}

// RequireSession validates the session cookie and populates AuthContext.
// Missing or invalid sessions get a 401 JSON body; store failures get 500.
func RequireSession(sessions SessionValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				writeJSONError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			sess, err := sessions.Validate(r.Context(), cookie.Value)
			if err != nil {
				if apperr.KindOf(err) == apperr.KindAuth {
					writeJSONError(w, http.StatusUnauthorized, "Session expired or invalid")
					return
				}
				logger.Error("validate session", "error", err)
				writeJSONError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			ctx := auth.WithAuth(r.Context(), auth.AuthContext{
				UserID:    sess.UserID,
				Email:     sess.Email,
				ExpiresAt: sess.ExpiresAt,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
