// Package client provides the upstream HTTP client for the telemetry API.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"rtv-proxy-go/internal/config"
	"rtv-proxy-go/internal/metrics"
	"rtv-proxy-go/internal/model"
)

// BasicAuth returns the Authorization header value for username and password.
func BasicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// TelemetryClient sends requests to the upstream telemetry API with Basic
// credentials attached.
type TelemetryClient struct {
	httpClient    *http.Client
	authorization string
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// NewTelemetryClient creates a TelemetryClient with connection pooling and timeouts.
// The Authorization value is computed once here and reused for every request.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewTelemetryClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *TelemetryClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &TelemetryClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		authorization: BasicAuth(cfg.Upstream.Username, cfg.Upstream.Password),
		logger:        logger.With("component", "telemetry_client"),
		metrics:       m,
	}
}

// Do executes a request against the upstream and reads the whole response body.
// The Authorization header is always replaced with the configured credentials.
// The http.Client drops it again on redirects to a different host.
// The provided context controls the lifetime of the upstream request: when it
// is canceled (e.g. client disconnects) the upstream request is canceled too.
func (c *TelemetryClient) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*model.ProxyResponse, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Set("Authorization", c.authorization)

	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	label := metrics.NormalizeMethod(req.Method)
	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
			c.metrics.UpstreamFailures.WithLabelValues(label).Inc()
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamFailures.WithLabelValues(label).Inc()
		}
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
