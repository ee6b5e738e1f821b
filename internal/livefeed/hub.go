package livefeed

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// ClientBufferSize is the send buffer size per client
	ClientBufferSize = 16
)

// Client is one authorized live connection
type Client struct {
	ID      string
	OwnerID string
	Conn    *websocket.Conn
	Send    chan []byte
	Done    chan struct{}

	mu     sync.Mutex
	closed bool
}

func newClient(id, ownerID string, conn *websocket.Conn) *Client {
	return &Client{
		ID:      id,
		OwnerID: ownerID,
		Conn:    conn,
		Send:    make(chan []byte, ClientBufferSize),
		Done:    make(chan struct{}),
	}
}

// Close safely closes the client connection and channels
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Done)
	close(c.Send)
	if c.Conn != nil {
		c.Conn.Close()
	}
}

// offer queues a frame without blocking; slow clients lose frames
func (c *Client) offer(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Hub keeps the authorized live connections grouped by owner and fans
// record events out to them.
type Hub struct {
	mu      sync.RWMutex
	byOwner map[string]map[string]*Client
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{byOwner: make(map[string]map[string]*Client)}
}

// Register adds an authorized client
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.byOwner[c.OwnerID]
	if !ok {
		clients = make(map[string]*Client)
		h.byOwner[c.OwnerID] = clients
	}
	clients[c.ID] = c
}

// Unregister removes and closes a client
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if clients, ok := h.byOwner[c.OwnerID]; ok {
		delete(clients, c.ID)
		if len(clients) == 0 {
			delete(h.byOwner, c.OwnerID)
		}
	}
	h.mu.Unlock()

	c.Close()
}

// Deliver sends an encoded frame to every client of ownerID except exclude.
// Returns the number of clients that accepted the frame.
func (h *Hub) Deliver(ownerID string, data []byte, exclude string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for id, c := range h.byOwner[ownerID] {
		if id == exclude {
			continue
		}
		if c.offer(data) {
			delivered++
		} else {
			log.Warn().Str("clientId", id).Str("ownerId", ownerID).Msg("live client too slow, dropping frame")
		}
	}
	return delivered
}

// Publish encodes ev and delivers it to the owner's local clients
func (h *Hub) Publish(ownerID string, ev Event, exclude string) {
	data, err := EncodeEvent(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode live event")
		return
	}
	n := h.Deliver(ownerID, data, exclude)
	log.Debug().
		Str("ownerId", ownerID).
		Str("type", string(ev.Type)).
		Str("productId", ev.Product.ID).
		Int("delivered", n).
		Msg("live event published")
}

// ClientCount returns the number of connected clients for ownerID
func (h *Hub) ClientCount(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byOwner[ownerID])
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.byOwner
	h.byOwner = make(map[string]map[string]*Client)
	h.mu.Unlock()

	for _, clients := range all {
		for _, c := range clients {
			c.Close()
		}
	}
}
