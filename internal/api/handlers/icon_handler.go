package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"tunesync-service/internal/services"
)

type IconHandler struct {
	icons *services.IconService
}

func NewIconHandler(icons *services.IconService) *IconHandler {
	return &IconHandler{icons: icons}
}

// GetIcon streams the cached artwork for a track. The optional src query
// parameter seeds the cache on a miss.
func (h *IconHandler) GetIcon(c *gin.Context) {
	trackID := c.Param("id")
	if trackID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "track id is required"})
		return
	}

	src := c.Query("src")
	body, contentType, err := h.icons.Get(c.Request.Context(), trackID, src)
	if err != nil {
		slog.Warn("Icon lookup failed", "error", err, "track", trackID)
		// Cache miss or storage trouble: fall back to the upstream artwork.
		if src != "" {
			c.Redirect(http.StatusFound, src)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "icon not found"})
		return
	}
	defer body.Close()

	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "public, max-age=86400")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		slog.Warn("Icon stream interrupted", "error", err, "track", trackID)
	}
}
