package streaming

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/creatoria/clarifier/internal/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin
		return true
	},
}

// WSHandler handles WebSocket connections
type WSHandler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewWSHandler creates a new WebSocket handler
func NewWSHandler(hub *Hub, log *logger.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws_handler")),
	}
}

// Stream upgrades the connection and streams clarification events. An
// optional session_id query parameter subscribes immediately; more sessions
// can be added with subscription messages afterwards.
// WS /ws
func (h *WSHandler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	client := NewClient(clientID, conn, h.hub, h.logger)
	h.hub.Register(client)

	if sessionID := c.Query("session_id"); sessionID != "" {
		client.Subscribe(sessionID)
	}

	h.logger.Info("WebSocket connection established",
		zap.String("client_id", clientID))

	go client.WritePump()
	go client.ReadPump()
}

// SetupWebSocketRoutes adds the streaming route to the router
func SetupWebSocketRoutes(router *gin.Engine, handler *WSHandler) {
	router.GET("/ws", handler.Stream)
}
