// Package api assembles the HTTP surface of the assessment service: the
// sync and async scoring endpoints, task polling, account controls, webhook
// administration, the live event stream and Prometheus metrics.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigilsec/riskengine/internal/auth"
	"github.com/vigilsec/riskengine/internal/config"
	"github.com/vigilsec/riskengine/internal/events"
	"github.com/vigilsec/riskengine/internal/handlers"
	"github.com/vigilsec/riskengine/internal/metrics"
	"github.com/vigilsec/riskengine/internal/middleware"
	"github.com/vigilsec/riskengine/internal/risk"
	"github.com/vigilsec/riskengine/internal/store"
	"github.com/vigilsec/riskengine/internal/stream"
	"github.com/vigilsec/riskengine/internal/tasks"
	"github.com/vigilsec/riskengine/internal/webhooks"
)

// Deps carries everything the server wires into routes. Broker, Results,
// Store, Registry, Webhooks, Bus and Hub may be nil; the affected routes
// degrade instead of panicking.
type Deps struct {
	Config   *config.Config
	Engine   *risk.Engine
	Broker   *tasks.Broker
	Results  *tasks.ResultBackend
	Store    store.AssessmentStore
	Registry *webhooks.Registry
	Webhooks webhooks.WebhookEmitter
	Bus      events.EventEmitter
	Hub      *stream.Hub
	Metrics  *metrics.Metrics
}

// Server is the HTTP front of the risk engine.
type Server struct {
	deps    Deps
	keyring *auth.Keyring
	limiter *middleware.UserRateLimiter
	httpSrv *http.Server
	logger  *log.Logger
}

// NewServer builds the server and its request guards from configuration.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:    deps,
		limiter: middleware.NewUserRateLimiter(deps.Config.RateLimit),
		logger:  log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
	if deps.Config.Auth.Enabled {
		s.keyring = auth.NewKeyring(deps.Config.Auth.APIKeys)
	}
	if deps.Metrics != nil {
		s.limiter.SetRejectHook(deps.Metrics.RecordRateLimited)
	}
	return s
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.CORSMiddleware)

	r.HandleFunc("/health", handlers.HandleHealth()).Methods("GET", "OPTIONS")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/stats", handlers.HandleStats(s.deps.Engine, s.deps.Broker, s.deps.Hub, s.deps.Registry, s.limiter)).Methods("GET")

	// Scoring endpoints share the per-user rate limit.
	limited := s.limiter.Middleware
	assess := handlers.HandleAssess(s.deps.Engine, s.deps.Metrics, s.deps.Bus, s.deps.Webhooks)
	r.Handle("/assess", limited(assess)).Methods("POST", "OPTIONS")
	if s.deps.Broker != nil {
		async := handlers.HandleAssessAsync(s.deps.Broker, s.deps.Metrics)
		r.Handle("/assess/async", limited(async)).Methods("POST", "OPTIONS")
		r.HandleFunc("/tasks/{task_id}", handlers.HandleTaskStatus(s.deps.Results, s.deps.Store)).Methods("GET")
	}

	// Account views and controls are operator surface, gated when API keys
	// are configured.
	guard := middleware.RequireAPIKey(s.keyring)
	r.Handle("/accounts/{user_id}/summary", guard(handlers.HandleAccountSummary(s.deps.Engine))).Methods("GET")
	r.Handle("/accounts/{user_id}/assessments", guard(handlers.HandleAccountAssessments(s.deps.Store))).Methods("GET")
	r.Handle("/accounts/{user_id}/freeze", guard(handlers.HandleAccountFreeze(s.deps.Engine))).Methods("POST", "OPTIONS")
	r.Handle("/accounts/{user_id}/reset-sessions", guard(handlers.HandleAccountResetSessions(s.deps.Engine))).Methods("POST", "OPTIONS")

	if s.deps.Registry != nil {
		r.Handle("/webhooks", guard(handlers.HandleRegisterWebhook(s.deps.Registry))).Methods("POST", "OPTIONS")
		r.Handle("/webhooks", guard(handlers.HandleListWebhooks(s.deps.Registry))).Methods("GET")
		r.Handle("/webhooks/{id}", guard(handlers.HandleDeleteWebhook(s.deps.Registry))).Methods("DELETE", "OPTIONS")
	}

	if s.deps.Hub != nil && s.deps.Config.Stream.LiveStreamEnabled() {
		r.HandleFunc("/stream", s.deps.Hub.HandleWebSocket).Methods("GET")
	}

	return r
}

// Start serves HTTP on the configured port until Shutdown or a listener
// error.
func (s *Server) Start() error {
	addr := ":" + s.deps.Config.Server.Port
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Printf("📡 Vigil API listening on %s (env: %s)", addr, s.deps.Config.Server.Env)
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	s.logger.Printf("📤 API shutting down")
	return s.httpSrv.Shutdown(ctx)
}
