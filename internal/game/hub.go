package game

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"roundhouse/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	clientBuffer   = 256
	outboundBuffer = 1024
)

// wsConn is the slice of *websocket.Conn the hub writes through.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Client struct {
	id     string
	userID string
	conn   wsConn
	send   chan []byte
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() string { return c.userID }

type outbound struct {
	ev     Event
	client *Client
	userID string
	connID string
}

// Hub fans events out to the connections of one game. Every write to a
// client's queue happens on the Run goroutine, so events keep their order.
type Hub struct {
	game       GameType
	clients    map[*Client]bool
	outbound   chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *zap.Logger
	metrics    *metrics.Metrics
}

func NewHub(game GameType, logger *zap.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		game:       game,
		clients:    make(map[*Client]bool),
		outbound:   make(chan outbound, outboundBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logger.Named("hub").With(zap.String("game", string(game))),
		metrics:    m,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.metrics.ClientConnected(string(h.game))
			h.log.Debug("client connected", zap.String("user", client.userID), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.metrics.ClientDisconnected(string(h.game))
				h.log.Debug("client disconnected", zap.String("user", client.userID), zap.Int("total", len(h.clients)))
			}
			h.mu.Unlock()

		case msg := <-h.outbound:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg outbound) {
	data, err := json.Marshal(msg.ev)
	if err != nil {
		h.log.Error("marshal event", zap.String("type", msg.ev.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	switch {
	case msg.client != nil:
		if h.clients[msg.client] {
			h.enqueue(msg.client, msg.ev.Type, data)
		}
	case msg.userID != "" || msg.connID != "":
		var exact *Client
		if msg.connID != "" {
			for client := range h.clients {
				if client.id == msg.connID {
					exact = client
					break
				}
			}
		}
		if exact != nil {
			h.enqueue(exact, msg.ev.Type, data)
			return
		}
		if msg.userID == "" {
			return
		}
		for client := range h.clients {
			if client.userID == msg.userID {
				h.enqueue(client, msg.ev.Type, data)
			}
		}
	default:
		for client := range h.clients {
			h.enqueue(client, msg.ev.Type, data)
		}
	}
}

func (h *Hub) enqueue(c *Client, event string, data []byte) {
	select {
	case c.send <- data:
	default:
		h.metrics.EventDropped(string(h.game), event, "client_full")
		h.log.Warn("client buffer full, dropping message", zap.String("client", c.id), zap.String("type", event))
	}
}

func (h *Hub) post(msg outbound) {
	select {
	case h.outbound <- msg:
	default:
		h.metrics.EventDropped(string(h.game), msg.ev.Type, "outbound_full")
		h.log.Warn("outbound channel full, dropping message", zap.String("type", msg.ev.Type))
	}
}

// Broadcast queues an event for every connection. It never blocks.
func (h *Hub) Broadcast(ev Event) {
	h.post(outbound{ev: ev})
}

func (h *Hub) Send(userID, connID string, ev Event) {
	if userID == "" && connID == "" {
		return
	}
	h.post(outbound{ev: ev, userID: userID, connID: connID})
}

func (h *Hub) SendTo(c *Client, ev Event) {
	h.post(outbound{ev: ev, client: c})
}

// Register attaches a connection and starts its writer. userID may be empty
// for spectators.
func (h *Hub) Register(conn wsConn, userID string) *Client {
	client := &Client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, clientBuffer),
	}
	go client.writePump()
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
	return client
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
