package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"workshop-deck/internal/services"
)

// WebSocketHandler upgrades connections and hands them to the hub
type WebSocketHandler struct {
	hub      *services.WebSocketService
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler creates a new websocket handler
func NewWebSocketHandler(hub *services.WebSocketService, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Presenter and audience views are served from other origins on the LAN.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.Named("http"),
	}
}

// ServeHTTP handles GET /ws
func (wh *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wh.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	wh.hub.ServeClient(conn)
}
