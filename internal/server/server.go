// Package server wires the carrier backend's HTTP surface: routing,
// middleware, health endpoints and the listen/shutdown lifecycle.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/americaniron/ironfreight/internal/api"
	"github.com/americaniron/ironfreight/internal/catalog"
	"github.com/americaniron/ironfreight/internal/events"
	"github.com/americaniron/ironfreight/internal/labels"
	"github.com/americaniron/ironfreight/internal/telemetry"
	"github.com/americaniron/ironfreight/pkg/shipper"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Server is the HTTP server for the carrier backend.
type Server struct {
	cfg      Config
	registry *shipper.Registry
	labels   *labels.Service
	logger   *otelzap.Logger
	metrics  *telemetry.Metrics
	limiter  *visitorStore
	router   chi.Router
}

// Config holds server configuration.
type Config struct {
	Port int

	// JWTSecret verifies HS256 bearer tokens. When empty, every presented
	// token is rejected and callers can only act anonymously.
	JWTSecret string
	JWTIssuer string

	RateLimitRPS   int
	RateLimitBurst int

	ServiceName string
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Registry *shipper.Registry
	Labels   *labels.Service
	Events   events.Publisher
	Catalog  *catalog.Store
	Metrics  *telemetry.Metrics
	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
	Logger   *otelzap.Logger
}

// New creates a new server instance.
func New(cfg Config, d Deps) *Server {
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = cfg.RateLimitRPS * 2
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ironfreight"
	}
	if cfg.JWTSecret == "" {
		d.Logger.Warn("JWT secret is not configured; label purchases and catalog edits are disabled")
	}

	s := &Server{
		cfg:      cfg,
		registry: d.Registry,
		labels:   d.Labels,
		logger:   d.Logger,
		metrics:  d.Metrics,
		limiter:  newVisitorStore(cfg.RateLimitRPS, cfg.RateLimitBurst, 3*time.Minute),
	}

	handler := api.New(api.Deps{
		Registry: d.Registry,
		Labels:   d.Labels,
		Events:   d.Events,
		Catalog:  d.Catalog,
		Metrics:  d.Metrics,
		Logger:   d.Logger,
	})

	metricsHandler := promhttp.Handler()
	if d.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(recovery(d.Logger))
	r.Use(tracing(cfg.ServiceName))
	r.Use(observe(d.Logger, d.Metrics))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(s.limiter, d.Logger, d.Metrics))
		r.Use(authenticate(cfg.JWTSecret, cfg.JWTIssuer, d.Logger))
		handler.Routes(r)
	})

	s.router = r
	return s
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases background resources. Run calls it on exit.
func (s *Server) Close() {
	s.limiter.stop()
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server",
			zap.Int("port", s.cfg.Port),
			zap.Strings("carriers", carrierNames(s.registry)),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleReady reports whether label storage answers and at least one carrier
// is registered.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := readiness{Status: "ready", Checks: map[string]string{}}

	if s.labels == nil {
		resp.Checks["labels"] = "not configured"
		resp.Status = "not_ready"
	} else if err := s.labels.Ping(ctx); err != nil {
		s.logger.Ctx(ctx).Warn("label store not ready", zap.Error(err))
		resp.Checks["labels"] = err.Error()
		resp.Status = "not_ready"
	} else {
		resp.Checks["labels"] = "ok"
	}

	if s.registry == nil || s.registry.Count() == 0 {
		resp.Checks["carriers"] = "none registered"
		resp.Status = "not_ready"
	} else {
		resp.Checks["carriers"] = fmt.Sprintf("%d registered", s.registry.Count())
	}

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	api.WriteJSON(w, status, resp)
}

func carrierNames(r *shipper.Registry) []string {
	if r == nil {
		return nil
	}
	var names []string
	for _, c := range r.Names() {
		names = append(names, string(c))
	}
	return names
}
