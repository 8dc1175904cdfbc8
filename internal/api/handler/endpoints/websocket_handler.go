package endpoints

import (
	"net/http"

	"flow/internal/api/websocket"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The control API is meant for the local machine
		return true
	},
}

type websocketHandler struct {
	hub       *websocket.Hub
	processor *websocket.CommandProcessor
	logger    zerolog.Logger
}

// WebSocketHandler sets up the browser feed routes
func WebSocketHandler(router gin.IRouter, hub *websocket.Hub, processor *websocket.CommandProcessor, logger zerolog.Logger) {
	h := &websocketHandler{hub: hub, processor: processor, logger: logger}

	wsRoutes := router.Group("/api/v1/ws")
	{
		wsRoutes.GET("", h.handleWebSocket)
		wsRoutes.GET("/stats", h.getStats)
	}
}

// handleWebSocket attaches a browser to the status feed
func (slf *websocketHandler) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slf.logger.Error().Err(err).Msg("Failed to upgrade to WebSocket")
		return
	}

	clientID := uuid.New().String()
	client := websocket.NewClient(clientID, slf.hub, conn, slf.processor, slf.logger)
	select {
	case slf.hub.Register <- client:
	case <-slf.hub.Done():
		conn.Close()
		return
	}

	slf.logger.Info().Str("clientId", clientID).Msg("WebSocket connection established")

	go client.WritePump()
	go client.ReadPump()
}

func (slf *websocketHandler) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"clients": slf.hub.ClientCount()})
}
