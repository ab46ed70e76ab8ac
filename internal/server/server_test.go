package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx/fxtest"

	"rtv-proxy-go/internal/client"
	"rtv-proxy-go/internal/config"
	"rtv-proxy-go/internal/handler"
	"rtv-proxy-go/internal/metrics"
	"rtv-proxy-go/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(baseURL, root string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{BodyMaxBytes: 1 << 20},
		Upstream: config.UpstreamConfig{
			BaseURL:         baseURL,
			Username:        "u",
			Password:        "p",
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
		Static:  config.StaticConfig{Root: root},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// newProxy assembles the full proxy pipeline the way the fx graph does.
func newProxy(t *testing.T, cfg *config.Config) *echo.Echo {
	t.Helper()
	logger := discardLogger()
	m := metrics.New()
	e := NewProxy(cfg, logger, m)
	tc := client.NewTelemetryClient(cfg, logger, m)
	svc := service.NewProxyService(tc, cfg, logger)
	handler.RegisterRoutes(e, cfg, m, handler.NewProxyHandler(svc, logger), handler.NewHealthHandler(cfg, "test"))
	return e
}

func writeSite(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>RTV</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func assertCORS(t *testing.T, h http.Header) {
	t.Helper()
	if h.Get("Access-Control-Allow-Origin") != "*" ||
		h.Get("Access-Control-Allow-Methods") != "GET, POST, PUT, DELETE, OPTIONS" ||
		h.Get("Access-Control-Allow-Headers") != "Content-Type, Authorization" {
		t.Errorf("missing CORS headers: %v", h)
	}
}

func TestProxy_ConcreteScenario(t *testing.T) {
	var gotMethod, gotURI, gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotURI = r.URL.RequestURI()
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "telemetry")
		_, _ = w.Write([]byte(`{"tour":42}`))
	}))
	defer upstream.Close()

	e := newProxy(t, testConfig(upstream.URL, writeSite(t)))

	req := httptest.NewRequest(http.MethodGet, "/api/tours/42", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotMethod != http.MethodGet || gotURI != "/tours/42" {
		t.Errorf("upstream got %s %s, want GET /tours/42", gotMethod, gotURI)
	}
	if gotAuth != "Basic dTpw" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Basic dTpw")
	}
	if rec.Body.String() != `{"tour":42}` {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Upstream") != "telemetry" {
		t.Error("upstream header not relayed")
	}
	assertCORS(t, rec.Header())
}

func TestProxy_PreflightNeverReachesUpstream(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer upstream.Close()

	e := newProxy(t, testConfig(upstream.URL, writeSite(t)))

	for _, path := range []string{"/api/tours/42", "/index.html", "/healthz", "/whatever"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusNoContent {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
			}
			if rec.Body.Len() != 0 {
				t.Errorf("body = %q, want empty", rec.Body.String())
			}
			assertCORS(t, rec.Header())
		})
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("upstream called %d times, want 0", n)
	}
}

func TestProxy_UnreachableUpstream(t *testing.T) {
	e := newProxy(t, testConfig("http://127.0.0.1:1", writeSite(t)))

	req := httptest.NewRequest(http.MethodPost, "/api/tours", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if _, ok := body["error"]; !ok {
		t.Error("missing key error")
	}
	if _, ok := body["detail"]; !ok {
		t.Error("missing key detail")
	}
	assertCORS(t, rec.Header())
}

func TestProxy_StaticFiles(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("upstream:" + r.URL.Path))
	}))
	defer upstream.Close()

	root := writeSite(t)
	files := map[string]string{
		filepath.Join(root, "api", "tours"):               "local",
		filepath.Join(root, ".env"):                       "RTV_API_PASSWORD=s3cret",
		filepath.Join(filepath.Dir(root), "outside.txt"): "s3cret",
	}
	for name, body := range files {
		if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(name, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	e := newProxy(t, testConfig(upstream.URL, root))

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string // empty: body not compared
	}{
		{"index", "/", http.StatusOK, "<h1>RTV</h1>"},
		{"index by name", "/index.html", http.StatusOK, "<h1>RTV</h1>"},
		{"api goes upstream", "/api/tours", http.StatusOK, "upstream:/tours"},
		{"missing file", "/missing.css", http.StatusNotFound, ""},
		{"dotfile", "/.env", http.StatusNotFound, ""},
		{"traversal", "/../outside.txt", http.StatusNotFound, ""},
		{"encoded traversal", "/%2e%2e/outside.txt", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if strings.Contains(rec.Body.String(), "s3cret") {
				t.Errorf("body leaks secret: %q", rec.Body.String())
			}
			assertCORS(t, rec.Header())
		})
	}
}

func TestProxy_DoesNotServeConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	files := map[string]string{
		"configs/config.toml": "[upstream]\nusername = \"u\"\npassword = \"s3cret\"\n",
		"configs/readme.txt":  "public",
		"index.html":          "<h1>RTV</h1>",
	}
	for name, body := range files {
		if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(name, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	// Defaults: config discovered in configs/, static root is the working directory.
	cfg, err := config.Load(&config.CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.FilePath() != "configs/config.toml" || cfg.Static.Root != "." {
		t.Fatalf("FilePath() = %q, Static.Root = %q; want discovered config served from .", cfg.FilePath(), cfg.Static.Root)
	}
	e := newProxy(t, cfg)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/configs/config.toml", http.StatusNotFound},
		{"/configs//config.toml", http.StatusNotFound},
		{"/configs/./config.toml", http.StatusNotFound},
		{"/configs/%63onfig.toml", http.StatusNotFound},
		{"/configs/readme.txt", http.StatusOK},
		{"/", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if strings.Contains(rec.Body.String(), "s3cret") {
				t.Errorf("body leaks config file: %q", rec.Body.String())
			}
		})
	}
}

func TestProxy_StaticDisabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1", writeSite(t))
	cfg.Static.Disabled = true
	e := newProxy(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/index.html", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestProxy_BodyLimit(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer upstream.Close()

	cfg := testConfig(upstream.URL, writeSite(t))
	cfg.Server.BodyMaxBytes = 16
	e := newProxy(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/tours", strings.NewReader(`{"name":"a rather long tour name"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("upstream called %d times, want 0", n)
	}
}

func TestProxy_RateLimit(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1", writeSite(t))
	cfg.Server.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1}
	e := newProxy(t, cfg)

	got429 := false
	for range 10 {
		req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			got429 = true
			break
		}
	}
	if !got429 {
		t.Error("expected at least one 429 response after burst, got none")
	}
}

func TestProxy_SecurityAndRequestID(t *testing.T) {
	e := newProxy(t, testConfig("http://127.0.0.1:1", writeSite(t)))

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options")
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Error("missing X-Request-Id")
	}
}

func TestStatic_Server(t *testing.T) {
	e := NewStatic(writeSite(t), discardLogger())

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/", http.StatusOK, "<h1>RTV</h1>"},
		{"/index.html", http.StatusOK, "<h1>RTV</h1>"},
		{"/missing.js", http.StatusNotFound, "Not Found"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRun_StartStop(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	Run(lc, NewStatic(writeSite(t), discardLogger()), "127.0.0.1:0", discardLogger())

	lc.RequireStart()
	lc.RequireStop()
}

func TestRun_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ln.Close() }()

	lc := fxtest.NewLifecycle(t)
	Run(lc, NewStatic(writeSite(t), discardLogger()), ln.Addr().String(), discardLogger())

	err = lc.Start(context.Background())
	if err == nil {
		_ = lc.Stop(context.Background())
		t.Fatal("Start() expected bind error, got nil")
	}
	if !strings.Contains(err.Error(), "bind") {
		t.Errorf("error = %q, want bind failure", err)
	}
}
