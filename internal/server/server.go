// Package server provides the HTTP server and routing for Fintel.
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

	"github.com/fintelcore/fintel/internal/marketdata"
	"github.com/fintelcore/fintel/internal/taskengine"
)

// Config holds server configuration
type Config struct {
	Port      int
	Log       zerolog.Logger
	Engine    *taskengine.Engine
	TaskRepo  *taskengine.Repository
	CacheRepo *taskengine.DailyCacheRepository
	Market    *marketdata.Service
	DevMode   bool
}

// Server represents the HTTP server
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	engine      *taskengine.Engine
	taskRepo    *taskengine.Repository
	cacheRepo   *taskengine.DailyCacheRepository
	market      *marketdata.Service
	startupTime time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		engine:      cfg.Engine,
		taskRepo:    cfg.TaskRepo,
		cacheRepo:   cfg.CacheRepo,
		market:      cfg.Market,
		startupTime: time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleCreateTask)
			r.Get("/", s.handleListTasks)
			r.Get("/{id}", s.handleGetTask)
			r.Get("/{id}/ws", s.handleTaskStream)
		})

		r.Route("/market", func(r chi.Router) {
			r.Get("/quote/{symbol}", s.handleQuote)
			r.Get("/history/{symbol}", s.handleHistory)
			r.Get("/fundamentals/{symbol}", s.handleFundamentals)
			r.Get("/info/{symbol}", s.handleInfo)
			r.Get("/earnings/{symbol}", s.handleEarnings)
			r.Get("/ticker/{symbol}", s.handleTickerData)
			r.Get("/options/{symbol}", s.handleOptionsExpirations)
			r.Get("/options/{symbol}/{expiry}", s.handleOptionsChain)
		})

		r.Get("/metrics", s.handleMetrics)
		r.Get("/metrics/calls", s.handleMetricsCalls)
		r.Get("/providers/status", s.handleProviderStatus)

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.handleSystemStatus)
		})

		r.Post("/cache/clear", s.handleCacheClear)
	})
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
