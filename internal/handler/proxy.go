package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"

	"rtv-proxy-go/internal/model"
	"rtv-proxy-go/internal/service"
)

// upstreamUnreachable is the fixed error message for transport failures.
const upstreamUnreachable = "Proxy could not reach upstream API"

// ErrorResponse is the JSON envelope for errors produced by the proxy itself.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// ProxyHandler forwards API requests to the upstream telemetry API.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the telemetry API and relays status, headers
// and body back unchanged.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	var body []byte
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			// BodyLimit reports oversize bodies through the reader.
			return err
		}
		body = b
	}

	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		URI:    req.URL.RequestURI(),
		Header: req.Header,
		Body:   body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}

	// Upstream values replace any header already set on the response,
	// CORS headers included.
	dst := c.Response().Header()
	for key, vals := range resp.Header {
		dst.Del(key)
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)
	if len(resp.Body) == 0 {
		return nil
	}
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"path", req.URL.Path,
		)
	}
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrInvalidBody) {
		h.logger.Warn("rejected request body",
			"err", err,
			"path", c.Request().URL.Path,
		)
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:  "Invalid JSON request body",
			Detail: err.Error(),
		})
	}

	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
		"cause", failureCause(err),
	)
	return c.JSON(http.StatusBadGateway, ErrorResponse{
		Error:  upstreamUnreachable,
		Detail: err.Error(),
	})
}

// failureCause classifies a transport failure for the log line only; every
// cause produces the same response.
func failureCause(err error) string {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return "client_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	default:
		return "connection"
	}
}
