package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tunesync-service/internal/services"
)

type SearchHandler struct {
	catalog *services.CatalogService
}

func NewSearchHandler(catalog *services.CatalogService) *SearchHandler {
	return &SearchHandler{catalog: catalog}
}

// SearchTracks proxies a track search to the upstream catalog.
func (h *SearchHandler) SearchTracks(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	tracks, err := h.catalog.Search(c.Request.Context(), query, limit)
	if err != nil {
		slog.Error("Catalog search failed", "error", err, "query", query)
		c.JSON(http.StatusBadGateway, gin.H{"error": "catalog search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracks": tracks})
}
