package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dukerupert/smartform/internal/assist"
	"github.com/dukerupert/smartform/internal/auth"
	"github.com/dukerupert/smartform/internal/config"
	"github.com/dukerupert/smartform/internal/delivery"
	"github.com/dukerupert/smartform/internal/handler"
	"github.com/dukerupert/smartform/internal/metrics"
	"github.com/dukerupert/smartform/internal/middleware"
	"github.com/dukerupert/smartform/internal/ratelimit"
	"github.com/dukerupert/smartform/internal/store"
	"github.com/dukerupert/smartform/internal/telemetry"
	"github.com/dukerupert/smartform/internal/textgen"
	"github.com/dukerupert/smartform/internal/tokenstore"
	ws "github.com/dukerupert/smartform/internal/websocket"
)

type Server struct {
	cfg      config.Config
	db       *sql.DB
	hub      *ws.Hub
	sessions *auth.Sessions
	authH    *handler.AuthHandler
	formH    *handler.FormHandler
	assistH  *handler.AssistHandler
	logger   *slog.Logger
}

func New(cfg config.Config, db *sql.DB, tokens tokenstore.Store, sender delivery.Sender, gen textgen.Generator, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))
	authLogger := logger.With("component", "auth")

	links := auth.NewLinks(tokens, cfg.MagicLinkTTL, auth.WithLogger(authLogger), auth.WithStoreTimeout(cfg.StoreTimeout))
	sessions := auth.NewSessions(tokens, cfg.SessionTTL, auth.WithLogger(authLogger), auth.WithStoreTimeout(cfg.StoreTimeout))

	userStore := store.NewUserStore(db)
	progressStore := store.NewProgressStore(db)
	submissionStore := store.NewSubmissionStore(db)
	usageStore := store.NewUsageStore(db)

	limiter := ratelimit.New(usageStore,
		ratelimit.WithPolicy(cfg.RateLimitMax, cfg.RateLimitWindow),
		ratelimit.WithStoreTimeout(cfg.StoreTimeout),
	)
	assistSvc := assist.NewService(limiter, gen, logger.With("component", "assist"))

	return &Server{
		cfg:      cfg,
		db:       db,
		hub:      hub,
		sessions: sessions,
		authH: handler.NewAuthHandler(userStore, links, sessions, sender, handler.AuthOptions{
			BaseURL:         cfg.BaseURL,
			CookieSecure:    cfg.CookieSecure,
			ExposeMagicLink: cfg.ExposeMagicLink,
		}, authLogger),
		formH:   handler.NewFormHandler(progressStore, submissionStore, hub, logger.With("component", "forms")),
		assistH: handler.NewAssistHandler(assistSvc, logger.With("component", "assist")),
		logger:  logger,
	}
}

func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, h http.Handler) {
		mux.Handle(pattern, middleware.Instrument(pattern)(h))
	}

	// Store-bound routes get a deadline. Generation routes run on the
	// request context; their session, limit and ledger calls are bounded
	// individually.
	bounded := chimw.Timeout(s.cfg.StoreTimeout)
	protect := middleware.RequireSession(s.sessions, s.logger.With("component", "auth"))
	startLimit := middleware.LimitByIP(s.cfg.AuthStartPerMinute, time.Minute)

	route("GET /health", http.HandlerFunc(s.healthHandler))
	mux.Handle("GET /metrics", metrics.Handler())

	route("POST /api/auth/start", startLimit(bounded(http.HandlerFunc(s.authH.Start))))
	route("GET /api/auth/verify", bounded(http.HandlerFunc(s.authH.Verify)))
	route("GET /api/auth/session", bounded(protect(http.HandlerFunc(s.authH.Session))))
	route("POST /api/auth/refresh", bounded(http.HandlerFunc(s.authH.Refresh)))
	route("POST /api/auth/logout", bounded(http.HandlerFunc(s.authH.Logout)))

	route("POST /api/forms/save", bounded(protect(http.HandlerFunc(s.formH.Save))))
	route("GET /api/forms/progress", bounded(protect(http.HandlerFunc(s.formH.Progress))))
	route("DELETE /api/forms/progress", bounded(protect(http.HandlerFunc(s.formH.ClearProgress))))
	route("POST /api/forms/submit", bounded(protect(http.HandlerFunc(s.formH.Submit))))
	route("GET /api/forms/submissions", bounded(protect(http.HandlerFunc(s.formH.Submissions))))
	mux.Handle("GET /api/forms/events", protect(ws.HandleEvents(s.hub, originHosts(s.cfg.AllowedOrigins), s.logger.With("component", "websocket"))))

	route("POST /api/ai/autofill", protect(http.HandlerFunc(s.assistH.Autofill)))
	route("POST /api/ai/improve", protect(http.HandlerFunc(s.assistH.Improve)))
	route("POST /api/ai/validate", protect(http.HandlerFunc(s.assistH.Validate)))
	route("GET /api/ai/usage", bounded(protect(http.HandlerFunc(s.assistH.Usage))))

	corsH := cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	var h http.Handler = mux
	h = corsH(h)
	h = chimw.Recoverer(h)
	h = middleware.RequestLogger(s.logger.With("component", "http"))(h)
	h = chimw.RequestID(h)
	return telemetry.Middleware("smartform")(h)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// originHosts turns configured origins into the host patterns the websocket
// upgrader matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			hosts = append(hosts, "*")
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}
