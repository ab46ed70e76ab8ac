package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"rtv-proxy-go/internal/config"
	"rtv-proxy-go/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	started time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, started: time.Now()}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusResponse describes the running proxy. Credentials are never included.
type StatusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UpstreamURL   string `json:"upstream_url"`
	APIPrefix     string `json:"api_prefix"`
	StaticRoot    string `json:"static_root,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := StatusResponse{
		Status:        "ok",
		Version:       string(h.version),
		UpstreamURL:   h.cfg.Upstream.BaseURL,
		APIPrefix:     service.APIPrefix,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	if !h.cfg.Static.Disabled {
		resp.StaticRoot = h.cfg.Static.Root
	}
	return c.JSON(http.StatusOK, resp)
}
