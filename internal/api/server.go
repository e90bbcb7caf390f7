package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"trendlab/internal/config"
	"trendlab/internal/logger"
	"trendlab/internal/middleware"
	"trendlab/internal/monitoring"
	"trendlab/internal/strategy/optimizer"
)

// StudyView is the read side of a running or finished study.
// *optimizer.Study satisfies it.
type StudyView interface {
	Summary() *optimizer.Summary
	Trials() []optimizer.Trial
	Best() (*optimizer.Trial, bool)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Server represents the API server
type Server struct {
	config     config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	hub        *Hub
	metrics    *monitoring.Metrics
	checks     map[string]HealthCheck
	trigger    func() error
	logger     logger.Logger

	mu    sync.RWMutex
	study StudyView
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics enables the metrics middleware and the /metrics endpoint.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealthCheck adds a named dependency probe to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithTrigger enables POST /api/v1/study/run, which calls fn.
func WithTrigger(fn func() error) Option {
	return func(s *Server) { s.trigger = fn }
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		config: cfg,
		checks: make(map[string]HealthCheck),
		logger: logger.GetGlobalLogger().WithField("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.metrics)

	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupRoutes()

	return s
}

// SetStudy points the API at the study currently being served.
func (s *Server) SetStudy(study StudyView) {
	s.mu.Lock()
	s.study = study
	s.mu.Unlock()
}

func (s *Server) currentStudy() StudyView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.study
}

// Hub returns the trial event hub; register it as a study listener.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.AccessLog(time.Second))
	if s.config.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst)
		s.router.Use(limiter.Middleware())
	}
	if s.metrics != nil {
		s.router.Use(s.metrics.MetricsMiddleware())
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	s.router.Use(middleware.HandleError())

	s.router.GET("/health", s.health)

	v1 := s.router.Group("/api/v1")
	{
		study := v1.Group("/study")
		{
			study.GET("", s.getStudy)
			study.GET("/best", s.getBest)
			study.GET("/trials", s.listTrials)
			study.GET("/trials/:number", s.getTrial)
			study.POST("/run", s.runStudy)
		}
	}

	s.router.GET("/ws/trials", s.hub.ServeWS)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", "addr", s.config.Addr())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
