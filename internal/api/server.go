// Package api serves the rule command endpoint, the REST mirror of it,
// health and metrics.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spooni01/ha-automation-of-todo/internal/datastore/repository"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// Config configures the server.
type Config struct {
	Listen string
	// Token, when set, is required as a bearer token on mutating routes and
	// on the command websocket.
	Token string
}

// Server wraps the echo instance and its controller.
type Server struct {
	echo       *echo.Echo
	controller *Controller
	listen     string
	log        logger.Logger
}

// HealthFunc reports whether dependencies are usable.
type HealthFunc func(ctx context.Context) error

// Options carries optional server dependencies.
type Options struct {
	Gatherer prometheus.Gatherer
	Health   HealthFunc
}

// NewServer builds the routes over repo.
func NewServer(cfg Config, repo repository.RuleRepository, log logger.Logger, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}
			log.Debug("http request", fields...)
			return nil
		},
	}))

	c := &Controller{
		repo:   repo,
		log:    log.With(logger.String("component", "api")),
		token:  cfg.Token,
		health: opts.Health,
	}
	s := &Server{echo: e, controller: c, listen: cfg.Listen, log: c.log}

	e.GET("/healthz", c.Health)
	if opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	e.GET("/api/websocket", c.HandleCommandWS, c.authMiddleware)
	c.initRuleRoutes(e.Group("/api"))
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run listens until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", logger.String("addr", ln.Addr().String()))
		errCh <- s.echo.Start("")
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
