// Package core provides the API chassis for the PulseMetrics usage and
// rate-limiting service. It wires the chi router and enforces cross-cutting
// concerns -- identity resolution, rate limiting, logging, metrics, and error
// handling -- before requests reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pulsemetrics/internal/billing"
	"pulsemetrics/internal/config"
	"pulsemetrics/internal/notify"
	"pulsemetrics/internal/ratelimit"
	"pulsemetrics/internal/usage"
)

// Server encapsulates all dependencies for the API, allowing injection
// during testing and distinct configuration for different environments.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Catalog       billing.PlanCatalog
	Limiter       *ratelimit.Limiter
	Usage         *usage.Service
	Enforcer      *billing.QuotaEnforcer
	Hub           *notify.Hub
	Authenticator Authenticator // Resolves tokens to Actors; injected for testability.

	// HealthProbes are the registered dependency checks for /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars are populated by the application entry point so the
	// chassis never imports handler packages.
	V1RouteRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a fail-fast check on critical
// dependencies; the caller mounts routes (via MountRoutes) after
// construction so tests can customize registration.
func NewServer(
	cfg *config.Config,
	logger *slog.Logger,
	catalog billing.PlanCatalog,
	limiter *ratelimit.Limiter,
) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if catalog == nil {
		return nil, fmt.Errorf("plan catalog must not be nil")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		Catalog:   catalog,
		Limiter:   limiter,
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server-held resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	if s.Limiter != nil {
		evicted := s.Limiter.Sweep()
		s.Logger.Info("rate limiter state released", "evicted", evicted)
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
