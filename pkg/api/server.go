package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/renderlite/renderlite/pkg/config"
	"github.com/renderlite/renderlite/pkg/events"
	"github.com/renderlite/renderlite/pkg/log"
	"github.com/renderlite/renderlite/pkg/manager"
	"github.com/renderlite/renderlite/pkg/metrics"
)

// Server is the REST/SSE ingress. It owns the HTTP listener; all domain
// decisions live in the manager, all realtime fan-out in the hub.
type Server struct {
	mgr      *manager.Manager
	hub      *events.Hub
	cfg      *config.Config
	validate *validator.Validate
	logger   zerolog.Logger

	httpSrv *http.Server
}

// NewServer wires the ingress over an already-started manager and hub.
func NewServer(mgr *manager.Manager, hub *events.Hub, cfg *config.Config) *Server {
	s := &Server{
		mgr:      mgr,
		hub:      hub,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.WithComponent("api"),
	}
	s.httpSrv = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: s.Handler(),
		// SSE streams are long-lived, so only the header read is bounded.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler builds the router. Exported so tests can drive the full
// middleware chain through httptest without a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestLogger()...)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Hub-Signature-256"},
		MaxAge:         300,
	}))

	r.Get("/healthz", metrics.HealthHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(instrument)

		r.Route("/services", func(r chi.Router) {
			r.Post("/", s.handleCreateService)
			r.Get("/", s.handleListServices)
			r.Route("/{serviceID}", func(r chi.Router) {
				r.Get("/", s.handleGetService)
				r.Get("/events", s.handleServiceEvents)
				r.Post("/deployments", s.handleTriggerDeployment)
				r.Get("/deployments", s.handleListDeployments)
				r.Post("/domains", s.handleAddDomain)
				r.Get("/domains", s.handleListDomains)
			})
		})

		r.Route("/deployments/{deploymentID}", func(r chi.Router) {
			r.Get("/", s.handleGetDeployment)
			r.Get("/events", s.handleDeploymentEvents)
			r.Post("/cancel", s.handleCancelDeployment)
			r.Post("/rollback", s.handleRollback)
		})

		r.Get("/users/{userID}/events", s.handleUserEvents)
		r.Post("/domains/{domainID}/verify", s.handleVerifyDomain)
		r.Post("/webhooks/{serviceID}", s.handleWebhook)
	})

	return r
}

// Start serves until Shutdown is called. A closed listener is a normal
// exit, not an error.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpSrv.Addr).Msg("API server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// up to the context deadline. Stop the hub first: open SSE streams end
// when their subscriptions close, not when the listener does.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("API server shutting down")
	return s.httpSrv.Shutdown(ctx)
}
