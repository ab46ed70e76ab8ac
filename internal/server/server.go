// Package server assembles the Echo instances and their lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"rtv-proxy-go/internal/config"
	"rtv-proxy-go/internal/metrics"
	"rtv-proxy-go/internal/middleware"
	"rtv-proxy-go/internal/service"
	"rtv-proxy-go/internal/static"
)

// NewProxy builds the Echo instance for the auth-injecting proxy. Routes are
// registered separately by handler.RegisterRoutes. m may be nil when metrics
// are disabled.
func NewProxy(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := newEcho()

	// Preflights end here on every path, before routing.
	e.Pre(middleware.CORS())

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if m != nil {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	if !cfg.Static.Disabled {
		skip := []string{service.APIPrefix, "/healthz", "/proxy/status"}
		if cfg.Metrics.Enabled {
			skip = append(skip, cfg.Metrics.Path)
		}
		opts := static.Options{Root: cfg.Static.Root, Skip: skip}
		if f := cfg.FilePath(); f != "" {
			// The config file may hold the upstream password.
			opts.Deny = append(opts.Deny, f)
		}
		e.Use(static.Middleware(opts))
		logger.Info("serving static files", "root", cfg.Static.Root)
	}

	return e
}

// NewStatic builds the Echo instance for the standalone file server: files
// under root by path, plain-text 404 otherwise.
func NewStatic(root string, logger *slog.Logger) *echo.Echo {
	e := newEcho()
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))
	e.Use(static.Middleware(static.Options{Root: root}))
	e.Any("/*", static.NotFound)
	return e
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout stays disabled; slow upstream calls are bounded by the
	// client timeout instead.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second
	return e
}

// Run binds addr when the fx application starts and drains the server when it stops.
// A bind failure aborts startup.
func Run(lc fx.Lifecycle, e *echo.Echo, addr string, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
