// Package server provides the kioku HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CatalogTotals reports how many users and vectors the catalog knows about.
type CatalogTotals interface {
	Totals(ctx context.Context) (users, vectors int64, err error)
}

// DocCounter reports how many captions are keyword-indexed.
type DocCounter interface {
	DocCount() (uint64, error)
}

// Server is the HTTP server for the kioku API.
type Server struct {
	manager  *indexer.Manager
	engine   *search.Engine
	config   *config.Config
	logger   *zap.Logger
	catalog  CatalogTotals
	captions DocCounter
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithCatalog adds catalog totals to the status endpoint.
func WithCatalog(c CatalogTotals) Option {
	return func(s *Server) { s.catalog = c }
}

// WithCaptionCount adds the keyword index size to the status endpoint.
func WithCaptionCount(c DocCounter) Option {
	return func(s *Server) { s.captions = c }
}

// NewServer creates a server with the given dependencies.
func NewServer(manager *indexer.Manager, engine *search.Engine, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		manager: manager,
		engine:  engine,
		config:  cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the API handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/photos", s.handleListPhotos)
			r.Post("/photos", s.handleAddPhoto)
			r.Delete("/photos", s.handleDeletePhoto)
			r.Post("/search", s.handleSearch)
			r.Get("/stats", s.handleStats)
			r.Post("/evict", s.handleEvict)
		})
	})
	return r
}

// requestLogger logs each request through zap at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
