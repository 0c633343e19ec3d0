// Package websocket pushes each applied census snapshot to connected
// observers so every device renders the same roster at the same time.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/wardsync/wardsync/internal/domain/patient"
	"github.com/wardsync/wardsync/internal/platform/metrics"
)

// RosterEvent is the message sent to every observer after a snapshot is
// applied. It always carries the full sorted census, never a diff.
type RosterEvent struct {
	Type      string                   `json:"type"`
	Timestamp time.Time                `json:"timestamp"`
	Patients  []*patient.PatientRecord `json:"patients"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

// Client is one connected observer.
type Client struct {
	id   string
	send chan []byte
	conn *gorillawebsocket.Conn
}

// Hub tracks connected observers and fans roster events out to them. It is
// wired as a sync engine listener.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewHub(logger zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
		metrics: m,
	}
}

// BroadcastRoster sends the census to every connected observer. A client
// whose buffer is full skips this delivery; the next snapshot catches it up.
func (h *Hub) BroadcastRoster(records []*patient.PatientRecord) {
	data, err := json.Marshal(RosterEvent{
		Type:      "roster",
		Timestamp: time.Now().UTC(),
		Patients:  records,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("encode roster event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetWebsocketClients(n)
	h.logger.Debug().Str("client_id", client.id).Int("clients", n).Msg("observer connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetWebsocketClients(n)
	h.logger.Debug().Str("client_id", client.id).Int("clients", n).Msg("observer disconnected")
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by CORS in front of the upgrade
	},
}

// RegisterRoutes registers the observer endpoint.
func (h *Hub) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

// HandleConnect upgrades the connection, registers the observer, and runs
// the pumps until the peer goes away.
func (h *Hub) HandleConnect(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	client := &Client{
		id:   uuid.NewString(),
		send: make(chan []byte, sendBufferSize),
		conn: conn,
	}
	h.register(client)

	go h.writePump(client)
	go h.readPump(client)
	return nil
}

// readPump drains inbound frames. Observers are watch-only; the pump exists
// to detect disconnects and answer pings.
func (h *Hub) readPump(client *Client) {
	defer func() {
		h.unregister(client)
		client.conn.Close()
	}()
	client.conn.SetReadLimit(512)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case data, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
