package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"postmesh/config"
	"postmesh/internal/middleware"
	"postmesh/internal/transport/httpdto"
	"postmesh/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

const shutdownTimeout = 5 * time.Second

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check HealthCheck
}

type Server struct {
	httpServer    *http.Server
	engine        *gin.Engine
	config        *config.Config
	logger        *logger.Logger
	gatherer      prometheus.Gatherer
	checks        []namedCheck
	shutdownHooks []func(context.Context)
}

func New(cfg *config.Config, l *logger.Logger, gatherer prometheus.Gatherer) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine:   engine,
		config:   cfg,
		logger:   l,
		gatherer: gatherer,
	}
}

// AddHealthCheck registers a dependency probed by GET /health.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks = append(s.checks, namedCheck{name: name, check: check})
}

// OnShutdown registers fn to run after the HTTP server has stopped. Hooks run
// in registration order.
func (s *Server) OnShutdown(fn func(ctx context.Context)) {
	s.shutdownHooks = append(s.shutdownHooks, fn)
}

// SetupRoutes installs the shared middleware and endpoints, then lets each
// register func mount its routes under /api.
func (s *Server) SetupRoutes(register ...func(api *gin.RouterGroup)) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong", "service": s.config.ServiceName}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		for _, nc := range s.checks {
			if err := nc.check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(fmt.Sprintf("%s: %s", nc.name, err), "UNHEALTHY"))
				return
			}
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	if s.gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api")
	for _, fn := range register {
		fn(api)
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting %s on port %s...", s.config.ServiceName, s.config.AppPort)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(quit)

	var serveErr error
	select {
	case sig := <-quit:
		s.logger.Info(context.Background(), "shutdown signal received", zap.String("signal", sig.String()))
	case serveErr = <-errCh:
		s.logger.Error(context.Background(), "server failed", zap.Error(serveErr))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		return err
	}
	return serveErr
}

// Shutdown stops accepting requests, waits for in-flight ones and then runs
// the shutdown hooks.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.logger.Error(ctx, "graceful shutdown failed", zap.Error(err))
	}
	for _, hook := range s.shutdownHooks {
		hook(ctx)
	}
	if err == nil {
		s.logger.Infof("Server stopped gracefully")
	}
	return err
}
