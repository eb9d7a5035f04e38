package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tommygebru/kiekky-engagement/internal/cache"
)

// Hub maintains active WebSocket connections
type Hub struct {
	// Registered clients by user ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Event
	done       chan struct{}

	offline []func(userID string)

	log *zap.Logger
	now func() time.Time

	mu sync.RWMutex
}

// Client is one WebSocket connection of a user
type Client struct {
	ID     string
	UserID string
	Conn   WSConn
	Send   chan []byte
	Hub    *Hub
}

// WSConn is the part of a WebSocket connection the hub uses
type WSConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Event, 256),
		done:       make(chan struct{}),
		log:        log,
		now:        time.Now,
	}
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every client's send channel
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastToAll(event)

		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		}
	}
}

// OnOffline registers fn to run when a user's last connection closes
func (h *Hub) OnOffline(fn func(userID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offline = append(h.offline, fn)
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.UserID] == nil {
		h.clients[client.UserID] = make(map[*Client]bool)
	}
	h.clients[client.UserID][client] = true

	h.log.Debug("client registered", zap.String("user_id", client.UserID), zap.String("client_id", client.ID))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	clients, ok := h.clients[client.UserID]
	if !ok || !clients[client] {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	wentOffline := len(clients) == 0
	if wentOffline {
		delete(h.clients, client.UserID)
	}
	close(client.Send)
	offline := append([]func(string){}, h.offline...)
	h.mu.Unlock()

	h.log.Debug("client unregistered", zap.String("user_id", client.UserID), zap.String("client_id", client.ID))

	if wentOffline {
		for _, fn := range offline {
			fn(client.UserID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, clients := range h.clients {
		for client := range clients {
			close(client.Send)
		}
		delete(h.clients, userID)
	}
}

func (h *Hub) marshal(event *Event) ([]byte, bool) {
	if event.At.IsZero() {
		event.At = h.now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal event", zap.String("type", string(event.Type)), zap.Error(err))
		return nil, false
	}
	return data, true
}

func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		// Client's send buffer is full, skip
		h.log.Warn("client send buffer full", zap.String("user_id", client.UserID))
	}
}

func (h *Hub) broadcastToAll(event *Event) {
	data, ok := h.marshal(event)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.clients {
		for client := range clients {
			h.deliver(client, data)
		}
	}
}

// Broadcast queues an event for every connected client. Events are dropped
// when the queue is full or the hub has stopped.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("broadcast queue full, dropping event", zap.String("type", string(event.Type)))
	}
}

// SendToUser sends an event to all connections of a specific user
func (h *Hub) SendToUser(userID string, event *Event) {
	event.UserID = userID
	data, ok := h.marshal(event)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		h.deliver(client, data)
	}
}

// Notify sends a notification to a user
func (h *Hub) Notify(userID string, n Notification) {
	h.SendToUser(userID, &Event{Type: EventNotification, Notification: &n})
}

// QueryInvalidated tells clients which cached queries to refetch. Viewer
// scoped queries go to their viewer only, shared ones to everybody.
func (h *Hub) QueryInvalidated(keys []cache.Key) {
	byViewer := make(map[string][]cache.Key)
	var shared []cache.Key
	for _, k := range keys {
		if viewer := k.Viewer(); viewer != "" {
			byViewer[viewer] = append(byViewer[viewer], k)
		} else {
			shared = append(shared, k)
		}
	}

	for viewer, ks := range byViewer {
		h.SendToUser(viewer, &Event{Type: EventQueryInvalidated, Queries: queryRefs(ks)})
	}
	if len(shared) > 0 {
		h.Broadcast(&Event{Type: EventQueryInvalidated, Queries: queryRefs(shared)})
	}
}

// OnlineUsers counts users with at least one connection
func (h *Hub) OnlineUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register registers a client. After the hub stops the client's send channel
// is closed instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister unregisters a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

var _ Notifier = (*Hub)(nil)
