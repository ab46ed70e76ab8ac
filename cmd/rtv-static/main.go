// Command rtv-static serves files from a directory by URL path.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"rtv-proxy-go/internal/logging"
	"rtv-proxy-go/internal/server"
)

// Set by goreleaser ldflags.
var version = "dev"

type cli struct {
	Host      string `kong:"help='Listen host.',env='HOST',default='0.0.0.0'"`
	Port      string `kong:"short='p',help='Listen port.',env='PORT',default='3001'"`
	Root      string `kong:"short='r',help='Directory to serve.',env='STATIC_ROOT',default='.',type='existingdir'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error.',env='LOG_LEVEL',default='info',enum='debug,info,warn,error'"`
	LogFormat string `kong:"help='Log format: json|text.',env='LOG_FORMAT',default='json',enum='json,text'"`

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`
}

const defaultPort = 3001

// addr returns the listen address. An empty PORT in the environment falls
// back to the default port.
func (c *cli) addr() (string, error) {
	port := defaultPort
	if p := strings.TrimSpace(c.Port); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 65535 {
			return "", fmt.Errorf("invalid port %q", c.Port)
		}
		port = n
	}
	return fmt.Sprintf("%s:%d", c.Host, port), nil
}

func main() {
	var args cli
	ctx := kong.Parse(&args,
		kong.Name("rtv-static"),
		kong.Description("Static file server: serves files under a directory, 404 on miss."),
		kong.Vars{"version": version},
	)
	addr, err := args.addr()
	ctx.FatalIfErrorf(err)

	fx.New(
		fx.Supply(&args),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Provide(
			func(a *cli) *slog.Logger { return logging.New(os.Stdout, a.LogLevel, a.LogFormat) },
			func(a *cli, logger *slog.Logger) *echo.Echo { return server.NewStatic(a.Root, logger) },
		),
		fx.Invoke(func(lc fx.Lifecycle, e *echo.Echo, a *cli, logger *slog.Logger) {
			logger.Info("serving directory", "root", a.Root)
			server.Run(lc, e, addr, logger)
		}),
	).Run()
}
