package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/goliatone/go-donations/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Option func(*Server)

func WithLogger(logger glog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsHandler exposes handler on GET /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = handler
	}
}

// WithHealthCheck replaces the default health check, which always succeeds.
func WithHealthCheck(check func(context.Context) error) Option {
	return func(s *Server) {
		if check != nil {
			s.health = check
		}
	}
}

// Server is the HTTP boundary over a core.DonationService.
type Server struct {
	config  Config
	service core.DonationService
	logger  glog.Logger
	metrics http.Handler
	health  func(context.Context) error
	echo    *echo.Echo
}

func NewServer(service core.DonationService, cfg Config, opts ...Option) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("api: donation service is required")
	}
	normalized, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	s := &Server{
		config:  normalized,
		service: service,
		logger:  glog.Nop(),
		health:  func(context.Context) error { return nil },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(normalized.BodyLimit))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: normalized.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAccept},
	}))
	e.Use(s.requestLogger())
	s.echo = e
	s.routes()
	return s, nil
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) routes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/donations", s.handleStartDonation)
	s.echo.POST("/donations/complete", s.handleCompleteDonation)
	s.echo.GET("/donations/finish", s.handleFinishRedirect)
	s.echo.GET("/donations/pending", s.handleLookupPending)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		s.logger.Info("donation api listening", "address", s.config.Address)
		errs <- s.echo.Start(s.config.Address)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout, _ := s.config.shutdownTimeout()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, values middleware.RequestLoggerValues) error {
			s.logger.Debug("http request",
				"request_id", values.RequestID,
				"remote_ip", values.RemoteIP,
				"method", values.Method,
				"uri", values.URI,
				"status", values.Status,
				"latency_ms", values.Latency.Milliseconds(),
			)
			return nil
		},
	})
}
