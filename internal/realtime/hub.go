// Package realtime streams authentication activity over WebSocket.
//
// Monitoring clients connect to /ws and receive login decisions and
// escalation outcomes as they happen, optionally filtered by a
// subscription message (event types, usernames, minimum risk score).
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gatewarden/gatewarden/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512 * 1024
	sendBuffer     = 256

	// MaxClients caps concurrent WebSocket connections.
	MaxClients = 10000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// EventType tags the two event streams.
type EventType string

const (
	EventDecision   EventType = "decision"
	EventEscalation EventType = "escalation"
)

// DecisionEvent is the wire payload for one login decision.
type DecisionEvent struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Action   string  `json:"action"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
}

// EscalationEvent is the wire payload for one finished escalation session.
type EscalationEvent struct {
	SessionID string  `json:"id"`
	Username  string  `json:"username"`
	Feature   string  `json:"feature"`
	Outcome   string  `json:"outcome"`
	Score     float64 `json:"score"`
	Rounds    int     `json:"rounds"`
}

// Subscription is what a connected client asks to receive. Clients send it
// as a JSON text message; an empty subscription means everything.
type Subscription struct {
	AllEvents  bool        `json:"allEvents"`
	EventTypes []EventType `json:"eventTypes"`
	Usernames  []string    `json:"usernames"`
	MinScore   float64     `json:"minScore"` // decisions only
}

// matches reports whether an event with the given attributes passes the
// subscription's filters.
func (s Subscription) matches(kind EventType, username string, score float64) bool {
	if s.AllEvents {
		return true
	}
	if len(s.EventTypes) > 0 {
		ok := false
		for _, t := range s.EventTypes {
			if t == kind {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(s.Usernames) > 0 {
		ok := false
		for _, u := range s.Usernames {
			if u == username {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if s.MinScore > 0 && kind == EventDecision && score < s.MinScore {
		return false
	}
	return true
}

// envelope is one event, serialized once, plus the attributes filters need.
type envelope struct {
	kind     EventType
	username string
	score    float64
	frame    []byte
}

// Client is one WebSocket connection and its subscription.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// HubStats is a point-in-time snapshot of connection counters.
type HubStats struct {
	Connected int   `json:"connectedClients"`
	Events    int64 `json:"totalEvents"`
	Joined    int64 `json:"totalClients"`
	Peak      int64 `json:"peakClients"`
}

// Hub fans events out to connected clients. Broadcast never blocks the
// caller: a full event queue drops the event, a full client queue drops
// the client.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	events chan envelope
	join   chan *Client
	leave  chan *Client
	done   chan struct{} // closed when Run exits, fences late upgrades

	logger *slog.Logger

	totalEvents atomic.Int64
	totalJoined atomic.Int64
	peak        atomic.Int64
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		events:  make(chan envelope, sendBuffer),
		join:    make(chan *Client),
		leave:   make(chan *Client),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Run owns the client table until ctx ends, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send) // writePump sends the close frame
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.join:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := int64(len(h.clients))
			h.mu.Unlock()
			h.totalJoined.Add(1)
			if n > h.peak.Load() {
				h.peak.Store(n)
			}
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client connected", "total", n)

		case c := <-h.leave:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client disconnected", "total", n)

		case ev := <-h.events:
			h.dispatch(ev)
		}
	}
}

func (h *Hub) dispatch(ev envelope) {
	h.totalEvents.Add(1)

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		c.mu.RLock()
		wants := c.sub.matches(ev.kind, ev.username, ev.score)
		c.mu.RUnlock()
		if !wants {
			continue
		}
		select {
		case c.send <- ev.frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		if _, ok := h.clients[c]; ok {
			close(c.send)
			delete(h.clients, c)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) publish(kind EventType, username string, score float64, data any) {
	frame, err := json.Marshal(struct {
		Type      EventType `json:"type"`
		Timestamp time.Time `json:"timestamp"`
		Data      any       `json:"data"`
	}{kind, time.Now().UTC(), data})
	if err != nil {
		h.logger.Error("event marshal failed", "type", kind, "error", err)
		return
	}

	select {
	case h.events <- envelope{kind: kind, username: username, score: score, frame: frame}:
	default:
		h.logger.Warn("event queue full, dropping event", "type", kind)
	}
}

// BroadcastDecision publishes a login decision to subscribed clients.
func (h *Hub) BroadcastDecision(ev DecisionEvent) {
	h.publish(EventDecision, ev.Username, ev.Score, ev)
}

// BroadcastEscalation publishes a finished escalation session.
func (h *Hub) BroadcastEscalation(ev EscalationEvent) {
	h.publish(EventEscalation, ev.Username, ev.Score, ev)
}

// Stats snapshots the hub's counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return HubStats{
		Connected: n,
		Events:    h.totalEvents.Load(),
		Joined:    h.totalJoined.Load(),
		Peak:      h.peak.Load(),
	}
}

// HandleWebSocket upgrades the request and attaches the client to the hub.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= MaxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		sub:  Subscription{AllEvents: true},
	}
	h.join <- c

	go c.writePump()
	go c.readPump()
}

// readPump consumes subscription updates until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
