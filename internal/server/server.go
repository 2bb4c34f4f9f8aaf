// Package server exposes the narrow operational HTTP surface this platform
// owns directly: a liveness probe, Prometheus scraping, and the manual
// approval-gate callback a pipeline with requires_approval pauses on. The
// broader REST API for managing pipelines, scanners, and budgets is out of
// scope here and lives behind whatever front end a deployment chooses.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/tradepilot/internal/cache"
	"github.com/aristath/tradepilot/internal/database"
	"github.com/aristath/tradepilot/internal/metrics"
	"github.com/aristath/tradepilot/internal/pipeline"
	"github.com/aristath/tradepilot/internal/store"
)

// Config bundles everything Server needs to construct its routes.
type Config struct {
	Log        zerolog.Logger
	Port       int
	DB         *database.DB
	Cache      *cache.Cache
	Pipelines  *store.Pipelines
	Executions *store.Executions
	TradeMgr   pipeline.Agent // trademanager.NewExecuteAgent(tm), occupies the approval callback's final agent step
}

// Server wraps the chi router and the underlying http.Server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	db         *database.DB
	cache      *cache.Cache
	approvals  *approvalHandler
}

// New builds a Server with routes registered but not yet listening.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "http_server").Logger(),
		db:     cfg.DB,
		cache:  cfg.Cache,
		approvals: &approvalHandler{
			pipelines: cfg.Pipelines,
			execs:     cfg.Executions,
			tradeMgr:  cfg.TradeMgr,
			log:       cfg.Log.With().Str("component", "approval_handler").Logger(),
		},
	}

	s.setupMiddleware()
	s.setupRoutes()

	port := cfg.Port
	if port <= 0 {
		port = 8080
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())
	s.router.Post("/executions/{id}/approve", s.approvals.handleApprove)
	s.router.Post("/executions/{id}/reject", s.approvals.handleReject)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("request")
	})
}

// Start blocks serving HTTP until Shutdown is called or an unrecoverable
// listener error occurs.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting http server")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down http server")
	return s.server.Shutdown(ctx)
}

