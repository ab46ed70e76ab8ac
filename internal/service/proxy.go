// Package service implements the core proxy forwarding logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"rtv-proxy-go/internal/client"
	"rtv-proxy-go/internal/config"
	"rtv-proxy-go/internal/model"
)

// APIPrefix is the inbound path prefix routed to the telemetry API. It is
// removed before the path is appended to the upstream base URL.
const APIPrefix = "/api"

// ErrInvalidBody is returned when a JSON request body cannot be decoded.
var ErrInvalidBody = errors.New("invalid JSON request body")

// droppedResponseHeaders are upstream response headers never relayed to the caller.
var droppedResponseHeaders = map[string]bool{
	"Content-Encoding":  true,
	"Transfer-Encoding": true,
	"Connection":        true,
}

// ProxyService forwards API requests to the telemetry upstream.
type ProxyService struct {
	client  *client.TelemetryClient
	logger  *slog.Logger
	baseURL string
}

// NewProxyService creates a ProxyService targeting cfg.Upstream.BaseURL.
func NewProxyService(c *client.TelemetryClient, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client:  c,
		logger:  logger.With("component", "proxy_service"),
		baseURL: cfg.Upstream.BaseURL,
	}
}

// Forward sends a ProxyRequest to the telemetry API and returns the fully read response.
//
// Only the method and, for methods other than GET and HEAD, a non-empty JSON
// body are taken from the inbound request. Inbound headers are not forwarded;
// the upstream sees the configured credentials and a JSON content type.
// A non-2xx upstream status is not an error.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	body, err := outboundBody(pr)
	if err != nil {
		return nil, err
	}

	target := s.buildUpstreamURL(pr.URI)
	header := http.Header{"Content-Type": {"application/json"}}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"target", target,
		"body_bytes", len(body),
	)

	resp, err := s.client.Do(pr.Ctx, pr.Method, target, header, body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

// buildUpstreamURL strips APIPrefix from the inbound path and query and
// appends the remainder to the base URL verbatim.
func (s *ProxyService) buildUpstreamURL(uri string) string {
	return s.baseURL + strings.TrimPrefix(uri, APIPrefix)
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if droppedResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = vals
	}
	return dst
}
