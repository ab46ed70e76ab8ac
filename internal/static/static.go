// Package static serves files from a local directory by URL path.
package static

import (
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// IndexFile is served for directory paths, including "/".
const IndexFile = "index.html"

// Options configures Middleware.
type Options struct {
	Root string
	// Skip lists URL path prefixes left to the router.
	Skip []string
	// Deny lists files that are never served even when they lie under Root.
	Deny []string
}

// Middleware returns an Echo middleware serving GET and HEAD requests from
// opts.Root. Skipped prefixes, dotfiles, denied files and paths with no
// matching file fall through to the next handler. Requests cannot escape Root.
func Middleware(opts Options) echo.MiddlewareFunc {
	denied := make(map[string]bool, len(opts.Deny))
	for _, p := range opts.Deny {
		if abs, err := filepath.Abs(p); err == nil {
			denied[abs] = true
		}
	}

	return echomw.StaticWithConfig(echomw.StaticConfig{
		Root:  opts.Root,
		Index: IndexFile,
		Skipper: func(c echo.Context) bool {
			req := c.Request()
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				return true
			}
			if hasAnyPrefix(req.URL.Path, opts.Skip) {
				return true
			}
			for _, p := range candidatePaths(req.URL.Path) {
				if hasHiddenSegment(p) || isDenied(opts.Root, p, denied) {
					return true
				}
			}
			return false
		},
	})
}

// NotFound answers with a plain-text 404. It terminates the chain behind
// Middleware in the standalone file server.
func NotFound(c echo.Context) error {
	return c.String(http.StatusNotFound, "Not Found")
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// candidatePaths returns the cleaned forms of p that the file lookup may
// resolve. Echo unescapes the already decoded path once more before opening
// the file, so both the decoded and the twice-decoded forms are returned.
func candidatePaths(p string) []string {
	out := []string{path.Clean("/" + p)}
	if u, err := url.PathUnescape(p); err == nil && u != p {
		out = append(out, path.Clean("/"+u))
	}
	return out
}

// hasHiddenSegment reports whether any segment of the cleaned path p starts
// with a dot, e.g. /.env or /.git/config.
func hasHiddenSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func isDenied(root, p string, denied map[string]bool) bool {
	if len(denied) == 0 {
		return false
	}
	abs, err := filepath.Abs(filepath.Join(root, filepath.FromSlash(p)))
	return err == nil && denied[abs]
}
