package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tunesync-service/internal/gateway"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Cross-origin policy is enforced by the CORS middleware.
		return true
	},
}

type WSHandler struct {
	gateway *gateway.Gateway
}

func NewWSHandler(gw *gateway.Gateway) *WSHandler {
	return &WSHandler{gateway: gw}
}

// HandleWebSocket upgrades the request and hands the connection to the
// gateway. Authentication happens in-band via the handshake frame.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err, "remote", c.ClientIP())
		return
	}
	h.gateway.HandleConnection(conn)
}
