// Package server exposes the analysis engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/schoolmap/internal/analysis"
	"github.com/sells-group/schoolmap/internal/monitoring"
)

// Analyzer is the part of analysis.Engine the handlers use.
type Analyzer interface {
	Dataset(ctx context.Context) (*analysis.Dataset, error)
	Snapshot(ctx context.Context, req analysis.Request) (*analysis.Snapshot, error)
	Regions(ctx context.Context, req analysis.Request) (*analysis.RegionsReport, error)
	Closure(ctx context.Context, req analysis.Request, seedID string) (*analysis.ClosureReport, error)
	Vulnerability(ctx context.Context, req analysis.Request) (*analysis.VulnerabilityReport, error)
}

// Config holds the HTTP settings.
type Config struct {
	Port           int
	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Server serves the HTTP API.
type Server struct {
	engine    Analyzer
	collector *monitoring.Collector
	metrics   *monitoring.Metrics
	cfg       Config
	limiter   *ipLimiter
}

// New creates a Server. collector and metrics may be nil.
func New(engine Analyzer, collector *monitoring.Collector, metrics *monitoring.Metrics, cfg Config) *Server {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		engine:    engine,
		collector: collector,
		metrics:   metrics,
		cfg:       cfg,
	}
	if cfg.RateLimit > 0 {
		s.limiter = newIPLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return s
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.observe)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if s.limiter != nil {
			api.Use(s.limiter.middleware)
		}
		api.Use(chimw.Timeout(s.cfg.RequestTimeout))

		api.Get("/status", s.handleStatus)
		api.Get("/snapshot", s.handleSnapshot)
		api.Get("/indicators/{kind}", s.handleIndicator)
		api.Get("/regions", s.handleRegions)
		api.Get("/regions/{seedID}/closure", s.handleClosure)
		api.Get("/vulnerability", s.handleVulnerability)
		api.Get("/geojson/{layer}", s.handleGeoJSON)
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}
