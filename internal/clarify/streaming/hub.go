// Package streaming pushes clarification lifecycle events to WebSocket
// clients so a dialog UI can follow a session without polling.
package streaming

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/creatoria/clarifier/internal/common/logger"
	"github.com/creatoria/clarifier/internal/events/bus"
)

// Client represents a WebSocket client connection
type Client struct {
	ID         string
	conn       *websocket.Conn
	sessionIDs map[string]bool // Sessions this client is subscribed to
	send       chan []byte
	hub        *Hub
	mu         sync.RWMutex
	logger     *logger.Logger
}

// NewClient creates a new WebSocket client
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:         id,
		conn:       conn,
		sessionIDs: make(map[string]bool),
		send:       make(chan []byte, 256),
		hub:        hub,
		logger:     log.WithFields(zap.String("client_id", id)),
	}
}

// Hub manages all WebSocket clients and routes session events to them.
type Hub struct {
	clients map[*Client]bool

	// Clients by session ID for efficient event routing
	sessionClients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *bus.Event

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:        make(map[*Client]bool),
		sessionClients: make(map[string]map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *bus.Event, 256),
		logger:         log.WithFields(zap.String("component", "websocket_hub")),
	}
}

// Bridge subscribes the hub to clarification events on the bus. Every event
// carries its session_id in the payload; that is the routing key.
func (h *Hub) Bridge(eventBus bus.EventBus) (bus.Subscription, error) {
	return eventBus.Subscribe("clarification.>", func(_ context.Context, event *bus.Event) error {
		h.broadcast <- event
		return nil
	})
}

// Run starts the hub processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.sessionClients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()
			h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))

		case event := <-h.broadcast:
			sessionID, _ := event.Data["session_id"].(string)
			if sessionID == "" {
				continue
			}

			h.mu.RLock()
			clients := h.sessionClients[sessionID]
			h.mu.RUnlock()

			if len(clients) == 0 {
				continue
			}

			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("Failed to marshal event", zap.Error(err))
				continue
			}

			for client := range clients {
				select {
				case client.send <- data:
				default:
					// Send buffer full, drop the client.
					h.mu.Lock()
					h.drop(client)
					h.mu.Unlock()
				}
			}
		}
	}
}

// drop removes a client and all its subscriptions. Callers hold h.mu.
func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	for sessionID := range client.sessionIDs {
		if clients, ok := h.sessionClients[sessionID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.sessionClients, sessionID)
			}
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// SubscribeClient subscribes a client to a session's events
func (h *Hub) SubscribeClient(client *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessionClients[sessionID]; !ok {
		h.sessionClients[sessionID] = make(map[*Client]bool)
	}
	h.sessionClients[sessionID][client] = true
	h.logger.Debug("Client subscribed to session",
		zap.String("client_id", client.ID),
		zap.String("session_id", sessionID))
}

// UnsubscribeClient unsubscribes a client from a session
func (h *Hub) UnsubscribeClient(client *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.sessionClients[sessionID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.sessionClients, sessionID)
		}
	}
	h.logger.Debug("Client unsubscribed from session",
		zap.String("client_id", client.ID),
		zap.String("session_id", sessionID))
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
