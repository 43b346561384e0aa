package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/practice-ranking/internal/domain"
	"github.com/practice-ranking/internal/service"
)

// Message types
const (
	MessageTypeRankingUpdate = "ranking_update"
	MessageTypeBadgesGranted = "badges_granted"
	MessageTypeSubscribe     = "subscribe"
	MessageTypeUnsubscribe   = "unsubscribe"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeError         = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string    `json:"type"`
	Period    string    `json:"period,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans ranking events out to the clients subscribed to a period
type Hub struct {
	// Subscribed clients by period id
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	period string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for period, clients := range h.clients {
					delete(clients, client)
					if len(clients) == 0 {
						delete(h.clients, period)
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.period]; !ok {
				h.clients[req.period] = make(map[*Client]bool)
			}
			h.clients[req.period][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "period", req.period)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.period]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.period)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "period", req.period)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// deliver sends a message to the subscribers of its period
func (h *Hub) deliver(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client := range h.clients[message.Period] {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) publish(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type)
	}
}

// BroadcastEntry notifies subscribers that a user's entry improved
func (h *Hub) BroadcastEntry(period domain.Period, entry domain.RankingEntry) {
	h.publish(&Message{
		Type:      MessageTypeRankingUpdate,
		Period:    period.ID(),
		Data:      entry,
		Timestamp: time.Now(),
	})
}

// BroadcastGrant notifies subscribers that a grant cycle finished
func (h *Hub) BroadcastGrant(period domain.Period, result service.GrantResult) {
	h.publish(&Message{
		Type:      MessageTypeBadgesGranted,
		Period:    period.ID(),
		Data:      result,
		Timestamp: time.Now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a period subscription
func (h *Hub) Subscribe(client *Client, period string) {
	h.subscribe <- &subscriptionRequest{client: client, period: period}
}

// Unsubscribe removes a client from a period subscription
func (h *Hub) Unsubscribe(client *Client, period string) {
	h.unsubscribe <- &subscriptionRequest{client: client, period: period}
}

// GetSubscriberCount returns the number of subscribers for a period
func (h *Hub) GetSubscriberCount(period string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[period])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
