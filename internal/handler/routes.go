// Package handler implements the HTTP endpoints of the proxy.
package handler

import (
	"github.com/labstack/echo/v4"

	"rtv-proxy-go/internal/config"
	"rtv-proxy-go/internal/metrics"
	"rtv-proxy-go/internal/service"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// The metrics endpoint is only mounted when enabled in cfg.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(m.Handler()))
	}

	e.Any(service.APIPrefix+"/*", proxy.Handle)
}
