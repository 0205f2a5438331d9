package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/autopilot-ventures/autopilot/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Business management
		r.Post("/businesses", handler.CreateBusiness)
		r.Get("/businesses", handler.ListBusinesses)
		r.Get("/businesses/{id}", handler.GetBusiness)

		// Revenue dashboard and projections
		r.Get("/dashboard", handler.Dashboard)
		r.Get("/opportunities", handler.Opportunities)

		// Payments
		r.Post("/payments/intents", handler.CreateIntent)
		r.Get("/payments/intents/{id}", handler.GetIntent)
		r.Post("/webhooks/payment", handler.PaymentWebhook)

		// Campaign scaling
		r.Post("/campaigns", handler.CreateCampaign)
		r.Get("/campaigns", handler.ListCampaigns)
		r.Get("/campaigns/{id}", handler.GetCampaign)
		r.Post("/campaigns/{id}/metrics", handler.RecordMetrics)
		r.Post("/campaigns/{id}/tick", handler.TickCampaign)

		// Experiments
		r.Post("/experiments", handler.CreateExperiment)
		r.Get("/experiments", handler.ListExperiments)
		r.Get("/experiments/{id}/results", handler.ExperimentResults)
		r.Post("/experiments/{id}/exposure", handler.RecordExposure)
		r.Post("/experiments/{id}/conversion", handler.RecordConversion)

		// Guardrail management
		r.Get("/guardrails", handler.ListGuardrails)
		r.Post("/guardrails", handler.CreateGuardrail)
		r.Post("/guardrails/reload", handler.ReloadGuardrails)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
