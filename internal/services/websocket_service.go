package services

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Commands accepted from websocket clients
const (
	CommandNext     = "next"
	CommandPrevious = "previous"
	CommandNavigate = "navigate"
	CommandState    = "state"
)

// EventError is sent to a single client whose command could not be handled
const EventError = "error"

// Controller is the part of the store driven by websocket commands
type Controller interface {
	Next() bool
	Previous() bool
	NavigateTo(index int) bool
	View() PresentationView
}

// Event is a server to client message
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Command is a client to server message
type Command struct {
	Type  string `json:"type"`
	Index *int   `json:"index,omitempty"`
}

// Client is one websocket connection
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
}

type directMessage struct {
	client *Client
	data   []byte
}

// WebSocketService keeps presenter and audience views in sync
type WebSocketService struct {
	controller Controller
	logger     *zap.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	direct     chan directMessage

	quit  chan struct{}
	done  chan struct{}
	pumps sync.WaitGroup
	count atomic.Int32
}

// NewWebSocketService creates a hub. Call Run to start it.
func NewWebSocketService(logger *zap.Logger) *WebSocketService {
	return &WebSocketService{
		logger:     logger.Named("websocket"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		direct:     make(chan directMessage, 64),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// SetController wires the store driven by client commands
func (h *WebSocketService) SetController(c Controller) {
	h.controller = c
}

// Done is closed once Run has returned
func (h *WebSocketService) Done() <-chan struct{} {
	return h.done
}

// ClientCount returns the number of connected clients
func (h *WebSocketService) ClientCount() int {
	return int(h.count.Load())
}

// Run serves the hub until ctx is cancelled, then closes every client and
// waits for their goroutines
func (h *WebSocketService) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int32(len(h.clients)))
			h.pumps.Add(2)
			go h.writePump(client)
			h.logger.Info("Client connected", zap.String("clientId", client.ID), zap.Int("clients", len(h.clients)))

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warn("Client send buffer full, disconnecting", zap.String("clientId", client.ID))
					h.remove(client)
				}
			}

		case msg := <-h.direct:
			if h.clients[msg.client] {
				select {
				case msg.client.send <- msg.data:
				default:
				}
			}

		case <-ctx.Done():
			close(h.quit)
			for client := range h.clients {
				h.remove(client)
			}
			h.pumps.Wait()
			h.logger.Info("WebSocket hub stopped")
			return
		}
	}
}

func (h *WebSocketService) remove(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.count.Store(int32(len(h.clients)))
	h.logger.Info("Client disconnected", zap.String("clientId", client.ID), zap.Int("clients", len(h.clients)))
}

// Broadcast sends an event to every client. It never blocks: events are
// dropped when the hub is stopped or backed up.
func (h *WebSocketService) Broadcast(event string, payload any) {
	data, err := json.Marshal(Event{Type: event, Data: payload})
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.quit:
	default:
		h.logger.Warn("Broadcast queue full, event dropped", zap.String("event", event))
	}
}

func (h *WebSocketService) sendTo(client *Client, event string, payload any) {
	data, err := json.Marshal(Event{Type: event, Data: payload})
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case h.direct <- directMessage{client: client, data: data}:
	case <-h.quit:
	}
}

// ServeClient registers conn and reads from it until it closes
func (h *WebSocketService) ServeClient(conn *websocket.Conn) {
	client := &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	select {
	case h.register <- client:
	case <-h.quit:
		conn.Close()
		return
	}

	if h.controller != nil {
		h.sendTo(client, EventState, h.controller.View())
	}
	h.readPump(client)
}

func (h *WebSocketService) readPump(client *Client) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.quit:
		}
		client.conn.Close()
		h.pumps.Done()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read error", zap.String("clientId", client.ID), zap.Error(err))
			}
			return
		}
		h.handleCommand(client, message)
	}
}

func (h *WebSocketService) handleCommand(client *Client, message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		h.sendTo(client, EventError, "invalid message")
		return
	}
	if h.controller == nil {
		h.sendTo(client, EventError, "presentation not available")
		return
	}

	switch cmd.Type {
	case CommandNext:
		h.controller.Next()
	case CommandPrevious:
		h.controller.Previous()
	case CommandNavigate:
		if cmd.Index == nil || !h.controller.NavigateTo(*cmd.Index) {
			h.sendTo(client, EventError, "invalid slide index")
		}
	case CommandState:
		h.sendTo(client, EventState, h.controller.View())
	default:
		h.sendTo(client, EventError, "unknown command: "+cmd.Type)
	}
}

func (h *WebSocketService) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
		h.pumps.Done()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
