// Package server implements the bleepsweep HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bleepstore/bleepsweep/internal/config"
	"github.com/bleepstore/bleepsweep/internal/metadata"
	"github.com/bleepstore/bleepsweep/internal/storage"
	"github.com/bleepstore/bleepsweep/internal/sweep"
)

// healthCheckTimeout bounds each dependency check of GET /health.
const healthCheckTimeout = 5 * time.Second

// Server is the bleepsweep HTTP server. It exposes the purge operation and
// the operational endpoints.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	store      storage.ObjectStore
	refs       metadata.ReferenceSource
	engine     *sweep.Engine
	httpServer *http.Server
}

// HealthCheck is the result of probing one dependency.
type HealthCheck struct {
	Status    string `json:"status" example:"ok" doc:"ok or error"`
	Error     string `json:"error,omitempty" doc:"Check error, if any"`
	LatencyMs int64  `json:"latency_ms" doc:"Check latency in milliseconds"`
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string                 `json:"status" example:"ok" doc:"Health status"`
	Checks map[string]HealthCheck `json:"checks,omitempty" doc:"Dependency checks"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Status int
	Body   HealthBody
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithObjectStore sets the object store swept by the server. Without one,
// every purge fails with no-admin-creds.
func WithObjectStore(store storage.ObjectStore) ServerOption {
	return func(s *Server) {
		s.store = store
	}
}

// WithReferenceSource sets the metadata store scanned for live references.
func WithReferenceSource(refs metadata.ReferenceSource) ServerOption {
	return func(s *Server) {
		s.refs = refs
	}
}

// New creates a new Server with the given configuration and wires up the
// routes on the Chi router with Huma API.
func New(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("bleepsweep purge API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
	}
	for _, opt := range opts {
		opt(s)
	}

	var engineOpts []sweep.Option
	if s.refs != nil {
		engineOpts = append(engineOpts, sweep.WithReferenceSource(s.refs))
	}
	s.engine = sweep.NewEngine(cfg.Engine(), s.store, engineOpts...)

	s.registerRoutes()
	return s, nil
}

// Handler returns the router wrapped in the middleware chain:
// metricsMiddleware -> commonHeaders -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = commonHeaders(s.router)
	if s.cfg.Observability.Metrics {
		handler = metricsMiddleware(handler)
	}
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline. An in-flight
// sweep observes the cancellation and stops issuing delete chunks.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router.
func (s *Server) registerRoutes() {
	if s.cfg.Observability.HealthCheck {
		huma.Register(s.api, huma.Operation{
			OperationID: "get-health",
			Method:      http.MethodGet,
			Path:        "/health",
			Summary:     "Health check",
			Description: "Checks the object store and reference source.",
			Tags:        []string{"System"},
		}, s.health)

		// Huma only does one method per registration.
		s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
		})
	}

	if s.cfg.Observability.Metrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	s.registerPurge()
}

func (s *Server) health(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	out := &HealthOutput{Status: http.StatusOK, Body: HealthBody{Status: "ok", Checks: map[string]HealthCheck{}}}

	run := func(name string, fn func(context.Context) error) {
		pctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()
		start := time.Now()
		err := fn(pctx)
		check := HealthCheck{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			check.Status = "error"
			check.Error = err.Error()
			out.Status = http.StatusServiceUnavailable
			out.Body.Status = "degraded"
		}
		out.Body.Checks[name] = check
	}

	if s.store != nil {
		run("storage", s.store.HealthCheck)
	}
	if s.refs != nil {
		run("metadata", s.refs.Ping)
	}
	return out, nil
}
