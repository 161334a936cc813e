package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/famcal/internal/audit"
	"github.com/dukerupert/famcal/internal/handler"
	"github.com/dukerupert/famcal/internal/metrics"
	"github.com/dukerupert/famcal/internal/middleware"
	"github.com/dukerupert/famcal/internal/scheduling"
	"github.com/dukerupert/famcal/internal/store"
	ws "github.com/dukerupert/famcal/internal/websocket"
)

type Config struct {
	MaxPageSize int
	RateLimit   int
	RateWindow  time.Duration
	AuditBuffer int
}

type Server struct {
	db          *sql.DB
	cfg         Config
	hub         *ws.Hub
	eventH      *handler.EventHandler
	familyH     *handler.FamilyHandler
	familyStore *store.FamilyStore
	tokenStore  *store.TokenStore
	auditStore  *store.AuditStore
	recorder    *audit.Recorder
	rateLimiter *middleware.RateLimiter
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New wires stores, the scheduling service and handlers. m may be nil, in
// which case /metrics is not served.
func New(db *sql.DB, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	eventStore := store.NewEventStore(db)
	familyStore := store.NewFamilyStore(db)
	childStore := store.NewChildStore(db)
	auditStore := store.NewAuditStore(db)

	recorder := audit.NewRecorder(auditStore, logger.With("component", "audit"), cfg.AuditBuffer, m)

	opts := []scheduling.Option{
		scheduling.WithAuditReader(auditStore),
		scheduling.WithNotifier(hub),
	}
	if m != nil {
		opts = append(opts, scheduling.WithObserver(m))
	}
	if cfg.MaxPageSize > 0 {
		opts = append(opts, scheduling.WithMaxPageSize(cfg.MaxPageSize))
	}
	svc := scheduling.NewService(eventStore, familyStore, childStore, recorder, logger.With("component", "scheduling"), opts...)

	return &Server{
		db:          db,
		cfg:         cfg,
		hub:         hub,
		eventH:      handler.NewEventHandler(svc, logger.With("component", "events")),
		familyH:     handler.NewFamilyHandler(svc, familyStore, logger.With("component", "families")),
		familyStore: familyStore,
		tokenStore:  store.NewTokenStore(db),
		auditStore:  auditStore,
		recorder:    recorder,
		rateLimiter: middleware.NewRateLimiter(),
		metrics:     m,
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// TokenStore returns the token store for cleanup tasks.
func (s *Server) TokenStore() *store.TokenStore {
	return s.tokenStore
}

// AuditStore returns the audit store for pruning.
func (s *Server) AuditStore() *store.AuditStore {
	return s.auditStore
}

// Close flushes pending audit entries. Call it after the HTTP server has
// stopped accepting requests.
func (s *Server) Close() {
	s.recorder.Close()
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	if s.metrics != nil {
		outerMux.Handle("GET /metrics", s.metrics.Handler())
	}

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireToken(s.tokenStore, s.logger.With("component", "auth"))
	outerMux.Handle("/", authMiddleware(protectedMux))

	var obs middleware.HTTPObserver
	if s.metrics != nil {
		obs = s.metrics
	}
	return middleware.RequestLogger(s.logger.With("component", "http"), obs)(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// rateLimitedHandler limits mutations per authenticated requester. A
// non-positive limit disables limiting.
func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.Handler {
	if s.cfg.RateLimit <= 0 {
		return h
	}
	rl := middleware.RateLimit(s.rateLimiter, middleware.RequesterKey, s.cfg.RateLimit, s.cfg.RateWindow)
	return rl(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Family-wide reads
	mux.HandleFunc("GET /api/families/{family_id}/events", s.eventH.List)
	mux.HandleFunc("GET /api/families/{family_id}/audit", s.familyH.Audit)
	mux.HandleFunc("GET /api/families/{family_id}/calendar.ics", s.familyH.Export)

	// Event API routes
	mux.HandleFunc("GET /api/events/{id}", s.eventH.Get)
	mux.Handle("POST /api/events", s.rateLimitedHandler(s.eventH.Create))
	mux.Handle("PUT /api/events/{id}", s.rateLimitedHandler(s.eventH.Update))
	mux.Handle("DELETE /api/events/{id}", s.rateLimitedHandler(s.eventH.Delete))
	mux.HandleFunc("POST /api/events/validate", s.eventH.Validate)

	// Live change feed
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.familyStore, s.logger.With("component", "websocket")))
}
