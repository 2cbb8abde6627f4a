package http

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// registerStatic serves the public and admin browser clients. Unknown
// paths under /api answer with JSON instead.
func (h *Handler) registerStatic(router *gin.Engine) {
	root := filepath.Clean(h.opts.StaticDir)

	router.GET("/", func(c *gin.Context) {
		h.serveFile(c, root, "index.html")
	})
	router.GET("/admin", func(c *gin.Context) {
		h.serveFile(c, root, "admin.html")
	})
	router.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			fail(c, http.StatusNotFound, "Not found")
			return
		}
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			fail(c, http.StatusNotFound, "Not found")
			return
		}
		h.serveFile(c, root, c.Request.URL.Path)
	})
}

func (h *Handler) serveFile(c *gin.Context, root, name string) {
	// path.Clean on a rooted path drops any ".." segments
	rel := strings.TrimPrefix(path.Clean("/"+name), "/")
	full := filepath.Join(root, filepath.FromSlash(rel))

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		fail(c, http.StatusNotFound, "Not found")
		return
	}
	c.File(full)
}
