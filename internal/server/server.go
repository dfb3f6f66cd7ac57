package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lodestar-io/lodestar/internal/decision"
	"github.com/lodestar-io/lodestar/internal/evidence"
	"github.com/lodestar-io/lodestar/internal/health"
	"github.com/lodestar-io/lodestar/internal/otel"
	"github.com/lodestar-io/lodestar/internal/rescore"
	"github.com/lodestar-io/lodestar/internal/workspace"
)

const defaultTimeout = 60 * time.Second

// Server holds all dependencies for the HTTP API.
type Server struct {
	router         *chi.Mux
	evidenceStore  *evidence.Store
	decisionStore  *decision.Store
	workspaceStore *workspace.Store
	manager        *workspace.Manager
	rescorer       *rescore.Service
	monitor        *health.Monitor
	alertStore     *health.AlertStore
	apiKeys        map[string]string
	corsOrigins    []string
	startTime      time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithManager sets the capture rate limit / quota manager.
func WithManager(m *workspace.Manager) Option {
	return func(s *Server) { s.manager = m }
}

// WithHealth sets the decay monitor and alert store for health-report routes.
func WithHealth(monitor *health.Monitor, alerts *health.AlertStore) Option {
	return func(s *Server) {
		s.monitor = monitor
		s.alertStore = alerts
	}
}

// WithCORSOrigins sets allowed CORS origins (e.g. ["*"] for MVP).
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// NewServer builds a Server with the required dependencies and optional Option(s).
func NewServer(
	evidenceStore *evidence.Store,
	decisionStore *decision.Store,
	workspaceStore *workspace.Store,
	rescorer *rescore.Service,
	apiKeys map[string]string,
	opts ...Option,
) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		evidenceStore:  evidenceStore,
		decisionStore:  decisionStore,
		workspaceStore: workspaceStore,
		rescorer:       rescorer,
		apiKeys:        apiKeys,
		corsOrigins:    []string{"*"},
		startTime:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.apiKeys == nil {
		s.apiKeys = make(map[string]string)
	}
	return s
}

// Routes returns the configured http.Handler (chi router with all middleware and routes).
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.MiddlewareWithStatus())
	r.Use(CORSMiddleware(s.corsOrigins))

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)
	r.Get("/v1/gates", s.handleGates)

	// Authenticated API group
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(middleware.Timeout(defaultTimeout))

		// Evidence capture is the only rate-limited write; list views and
		// decision edits stay cheap and unthrottled.
		r.Group(func(r chi.Router) {
			r.Use(CaptureLimitMiddleware(s.manager))
			r.Post("/v1/evidence", s.handleEvidenceCreate)
		})

		r.Get("/v1/evidence", s.handleEvidenceSearch)
		r.Get("/v1/evidence/{id}", s.handleEvidenceGet)
		r.Put("/v1/evidence/{id}", s.handleEvidenceUpdate)
		r.Delete("/v1/evidence/{id}", s.handleEvidenceDelete)
		r.Post("/v1/evidence/{id}/score", s.handleEvidenceScore)
		r.Post("/v1/rescore", s.handleRescoreAll)

		r.Post("/v1/decisions", s.handleDecisionCreate)
		r.Get("/v1/decisions", s.handleDecisionList)
		r.Get("/v1/decisions/{id}", s.handleDecisionGet)
		r.Put("/v1/decisions/{id}", s.handleDecisionUpdate)
		r.Delete("/v1/decisions/{id}", s.handleDecisionDelete)
		r.Post("/v1/decisions/{id}/links", s.handleLinkCreate)
		r.Delete("/v1/decisions/{id}/links/{evidence_id}", s.handleLinkDelete)
		r.Post("/v1/decisions/{id}/status", s.handleStatusChange)
		r.Post("/v1/decisions/{id}/outcomes", s.handleOutcomeCreate)
		r.Get("/v1/decisions/{id}/outcomes", s.handleOutcomeList)

		r.Get("/v1/workspace/settings", s.handleSettingsGet)
		r.Put("/v1/workspace/settings", s.handleSettingsPut)
		r.Post("/v1/workspace/settings/import", s.handleSettingsImport)

		r.Post("/v1/health-report/run", s.handleHealthReportRun)
		r.Get("/v1/health-report", s.handleHealthReportLatest)
	})

	return r
}
