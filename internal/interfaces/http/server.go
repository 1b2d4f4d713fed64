// Package http exposes the reconciliation services over HTTP.
// Handlers only translate requests and errors; all rules live in the service layer.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/spend-reconciliation/internal/application/service"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	logger     Logger
}

// Option configures the server
type Option func(*Server)

// WithHealth reports fn's result on /health
func WithHealth(fn HealthFunc) Option {
	return func(s *Server) {
		s.handlers.health = fn
	}
}

// NewServer creates a new HTTP server with the given services
func NewServer(
	config ServerConfig,
	batches service.BatchService,
	resolution service.ResolutionService,
	reports service.ReportService,
	logger Logger,
	opts ...Option,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:   config,
		router:   gin.New(),
		handlers: NewHandlers(batches, resolution, reports, logger),
		logger:   logger,
	}

	for _, opt := range opts {
		opt(server)
	}

	server.router.Use(gin.Recovery(), server.loggingMiddleware())
	server.setupRoutes()

	return server
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"actor", c.GetHeader(ActorHeader),
		)
	}
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api/v1")
	{
		api.POST("/batches", h.CreateBatch)
		api.GET("/batches", h.ListBatches)
		api.GET("/batches/:id", h.GetBatch)
		api.DELETE("/batches/:id", h.DeleteBatch)
		api.POST("/batches/:id/start", h.StartBatch)
		api.POST("/batches/:id/cancel", h.CancelBatch)
		api.GET("/batches/:id/details", h.ListDetails)
		api.GET("/batches/:id/audit", h.ListAuditEntries)

		api.GET("/details/:id", h.GetDetail)
		api.GET("/details/:id/adjustments", h.ListAdjustments)
		api.POST("/details/:id/review", h.ReviewDetail)
		api.POST("/details/:id/adjustments", h.AdjustDetail)
		api.POST("/details/:id/resolve", h.ResolveDetail)

		api.POST("/adjustments/:id/confirm", h.FinanceConfirm)

		api.POST("/reports", h.GenerateReport)
		api.GET("/reports", h.ListReports)
		api.GET("/reports/:id", h.GetReport)
		api.GET("/reports/:id/export", h.ExportReport)
	}
}

// Start serves until ctx is cancelled or the listener fails
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.Address(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
