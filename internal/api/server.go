package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/prorroga-chain-server/internal/domain"
	"github.com/prorroga-chain-server/internal/middleware"
	"github.com/prorroga-chain-server/internal/notify"
	"github.com/prorroga-chain-server/internal/service"
)

// Version is reported by the health endpoint.
var Version = "dev"

// HealthCheck probes one dependency for the health endpoint.
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	service       *service.ProrrogaService
	logger        *logrus.Logger
	feed          *notify.Broadcaster
	gatherer      prometheus.Gatherer
	checks        map[string]HealthCheck
	router        *gin.Engine
	server        *http.Server
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithAlertFeed streams alerts from analyses to websocket subscribers.
func WithAlertFeed(b *notify.Broadcaster) Option {
	return func(s *Server) { s.feed = b }
}

// WithGatherer serves /metrics from the given gatherer instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithHealthCheck adds a named dependency probe to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, svc *service.ProrrogaService, logger *logrus.Logger, opts ...Option) *Server {
	cfg := configManager.GetConfig()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		configManager: configManager,
		service:       svc,
		logger:        logger,
		gatherer:      prometheus.DefaultGatherer,
		checks:        make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(middleware.CorrelationID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS())
	if cfg.Server.RateLimit > 0 {
		router.Use(middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst).Middleware())
	}
	s.router = router

	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Websocket subscribers hold hijacked connections Shutdown does not wait for
	if s.feed != nil {
		s.feed.Close()
	}
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/correlation", s.handleScoreCorrelation)

		v1.GET("/codes/:code", s.handleLookupCode)
		v1.GET("/codes/:code/related", s.handleRelatedCodes)

		v1.POST("/validate/day-count", s.handleValidateDayCount)
		v1.POST("/validate/typical-days", s.handleValidateTypicalDays)

		v1.POST("/subjects/:id/analysis", s.handleAnalyzeSubject)
		v1.GET("/subjects/:id/analysis", s.handleAnalyzeStoredSubject)
		v1.POST("/subjects/:id/detect", s.handleDetectExtension)
		v1.POST("/analysis/batch", s.handleBatchAnalysis)

		v1.POST("/decisions", s.handleRecordDecision)
		v1.GET("/decisions/:a/:b", s.handleGetDecision)

		v1.GET("/reference/info", s.handleReferenceInfo)
		v1.POST("/reference/reload", s.handleReferenceReload)

		v1.GET("/alerts/feed", s.handleAlertFeed)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	info := s.service.Info()
	c.JSON(code, gin.H{
		"status":               status,
		"timestamp":            time.Now().UTC(),
		"version":              Version,
		"reference_version":    info.Reference.Version,
		"reference_generation": info.Reference.Generation,
		"components":           components,
	})
}
