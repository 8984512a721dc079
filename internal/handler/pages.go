package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
)

// pageHandler serves one HTML page from the web directory unchanged.
func (h *Handler) pageHandler(file string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := filepath.Join(h.webDir, file)
		if _, err := os.Stat(path); err != nil {
			c.Data(http.StatusNotFound, "text/html; charset=utf-8", []byte("<h1>"+file+" not found</h1>"))
			return
		}
		c.File(path)
	}
}
