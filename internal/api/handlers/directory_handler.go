package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tunesync-service/internal/gateway"
)

// DirectoryHandler exposes the gateway's live user registries over REST so
// the web client can render the online list without a socket.
type DirectoryHandler struct {
	gateway *gateway.Gateway
}

func NewDirectoryHandler(gw *gateway.Gateway) *DirectoryHandler {
	return &DirectoryHandler{gateway: gw}
}

func (h *DirectoryHandler) OnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.gateway.OnlineUsers()})
}

func (h *DirectoryHandler) RecentUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.gateway.RecentUsers()})
}
