package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"rtv-proxy-go/internal/client"
	"rtv-proxy-go/internal/config"
	"rtv-proxy-go/internal/handler"
	"rtv-proxy-go/internal/logging"
	"rtv-proxy-go/internal/metrics"
	"rtv-proxy-go/internal/server"
	"rtv-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run parses arguments and configuration and, when both are valid, runs the
// proxy until it receives a stop signal. Configuration errors return 1 before
// any socket is opened.
func run(args []string, stderr io.Writer) int {
	var cli config.CLI
	parser, err := kong.New(&cli,
		kong.Name("rtv-proxy"),
		kong.Description("Reverse proxy injecting Basic credentials into telemetry API requests."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
		kong.Writers(os.Stdout, stderr),
	)
	if err != nil {
		fmt.Fprintf(stderr, "rtv-proxy: %v\n", err)
		return 1
	}
	if _, err := parser.Parse(args); err != nil {
		fmt.Fprintf(stderr, "rtv-proxy: %v\n", err)
		return 1
	}

	cfg, err := config.Load(&cli)
	if err != nil {
		fmt.Fprintf(stderr, "rtv-proxy: %v\n", err)
		return 1
	}

	fx.New(
		fx.Supply(cfg),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Provide(
			func() handler.Version { return handler.Version(version) },
			newLogger,
			newMetrics,
			server.NewProxy,
			client.NewTelemetryClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer),
	).Run()
	return 0
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
}

// newMetrics returns nil when metrics are disabled; consumers treat nil as off.
func newMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	logger.Info("proxying API requests",
		"prefix", service.APIPrefix,
		"target", cfg.Upstream.BaseURL,
	)
	server.Run(lc, e, cfg.Server.Addr(), logger)
}
