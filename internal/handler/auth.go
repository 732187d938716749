package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/smartform/internal/apperr"
	"github.com/dukerupert/smartform/internal/auth"
	"github.com/dukerupert/smartform/internal/delivery"
	"github.com/dukerupert/smartform/internal/middleware"
	"github.com/dukerupert/smartform/internal/store"
)

// AuthOptions carries the settings the auth endpoints need from config.
type AuthOptions struct {
	BaseURL      string
	CookieSecure bool
	// ExposeMagicLink returns the link in the start response for local
	// development without a mail channel.
	ExposeMagicLink bool
}

type AuthHandler struct {
	users    *store.UserStore
	links    *auth.Links
	sessions *auth.Sessions
	sender   delivery.Sender
	opts     AuthOptions
	logger   *slog.Logger
}

func NewAuthHandler(
	us *store.UserStore,
	links *auth.Links,
	sessions *auth.Sessions,
	sender delivery.Sender,
	opts AuthOptions,
	logger *slog.Logger,
) *AuthHandler {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &AuthHandler{
		users:    us,
		links:    links,
		sessions: sessions,
		sender:   sender,
		opts:     opts,
		logger:   logger,
	}
}

type startResponse struct {
	Message   string    `json:"message"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
	MagicLink string    `json:"magicLink,omitempty"`
}

// Start issues a magic link for the posted email. Delivery failures are
// logged; the response is the same either way.
func (h *AuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "Failed to start authentication")
		return
	}
	email, err := auth.NormalizeEmail(req.Email)
	if err != nil {
		writeError(w, h.logger, err, "Failed to start authentication")
		return
	}

	if _, err := h.users.FindOrCreate(r.Context(), email); err != nil {
		writeError(w, h.logger, err, "Failed to start authentication")
		return
	}
	token, expiresAt, err := h.links.Issue(r.Context(), email)
	if err != nil {
		writeError(w, h.logger, err, "Failed to start authentication")
		return
	}

	link := h.opts.BaseURL + "/api/auth/verify?token=" + url.QueryEscape(token)
	expiresIn := time.Until(expiresAt).Round(time.Minute)
	if err := h.sender.SendMagicLink(r.Context(), email, link, expiresIn); err != nil {
		h.logger.Error("deliver magic link", "email", email, "error", err)
	}

	resp := startResponse{Message: "Magic link sent", Email: email, ExpiresAt: expiresAt}
	if h.opts.ExposeMagicLink {
		resp.MagicLink = link
	}
	writeData(w, resp)
}

// Verify redeems the link token, starts a session and redirects to the
// form. Failures redirect to the login page with an error code.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		h.loginRedirect(w, r, "invalid_token")
		return
	}

	email, err := h.links.Redeem(r.Context(), token)
	if err != nil {
		h.loginRedirect(w, r, verifyErrorCode(err))
		return
	}

	user, err := h.users.GetByEmail(r.Context(), email)
	if err != nil {
		h.logger.Error("verify user lookup", "error", err)
		h.loginRedirect(w, r, "server_error")
		return
	}
	if user == nil {
		h.loginRedirect(w, r, "user_not_found")
		return
	}

	sessionToken, _, err := h.sessions.Create(r.Context(), user.ID, user.Email)
	if err != nil {
		h.logger.Error("create session", "error", err)
		h.loginRedirect(w, r, verifyErrorCode(err))
		return
	}

	h.setSessionCookie(w, sessionToken)
	http.Redirect(w, r, "/form", http.StatusSeeOther)
}

func verifyErrorCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrLinkInvalid):
		return "expired_token"
	case apperr.KindOf(err) == apperr.KindStore:
		return "server_error"
	default:
		return "verification_failed"
	}
}

type sessionResponse struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Session reports the identity attached by RequireSession.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, h.logger, auth.ErrSessionInvalid, "Failed to check session")
		return
	}
	writeData(w, sessionResponse{UserID: ac.UserID, Email: ac.Email, ExpiresAt: ac.ExpiresAt})
}

// Refresh rotates the session token and resets its lifetime.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookie)
	if err != nil || cookie.Value == "" {
		writeError(w, h.logger, auth.ErrSessionInvalid, "Failed to refresh session")
		return
	}
	token, sess, err := h.sessions.Refresh(r.Context(), cookie.Value)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindAuth {
			h.clearSessionCookie(w)
		}
		writeError(w, h.logger, err, "Failed to refresh session")
		return
	}
	h.setSessionCookie(w, token)
	writeData(w, sessionResponse{UserID: sess.UserID, Email: sess.Email, ExpiresAt: sess.ExpiresAt})
}

// Logout deletes the session, if any, and clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookie); err == nil && cookie.Value != "" {
		if err := h.sessions.Delete(r.Context(), cookie.Value); err != nil {
			writeError(w, h.logger, err, "Failed to logout")
			return
		}
	}
	h.clearSessionCookie(w)
	writeMessage(w, "Logged out successfully")
}

func (h *AuthHandler) loginRedirect(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/login?error="+code, http.StatusSeeOther)
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
