package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// Conn is one websocket connection held for a user.
type Conn struct {
	ws     *websocket.Conn
	userID string

	mu       sync.Mutex // serialises writes; gorilla allows one concurrent writer
	lastSeen time.Time
}

func (c *Conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *Conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
}

// Touch records liveness, typically from a pong handler.
func (c *Conn) Touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Conn) seen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Hub tracks the open connections of every user and fans in-app
// notifications out to them.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*Conn]struct{}

	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]map[*Conn]struct{}),
		logger: logger,
	}
}

// Add registers ws for userID.
func (h *Hub) Add(userID string, ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws, userID: userID, lastSeen: time.Now()}

	h.mu.Lock()
	if _, ok := h.conns[userID]; !ok {
		h.conns[userID] = make(map[*Conn]struct{})
	}
	h.conns[userID][c] = struct{}{}
	total := len(h.conns[userID])
	h.mu.Unlock()

	h.logger.Debug("ws connected", zap.String("user_id", userID), zap.Int("connections", total))
	return c
}

// Remove closes c and forgets it. Safe to call more than once.
func (h *Hub) Remove(c *Conn) {
	h.mu.Lock()
	if set, ok := h.conns[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.userID)
		}
	}
	h.mu.Unlock()

	_ = c.ws.Close()
	h.logger.Debug("ws disconnected", zap.String("user_id", c.userID))
}

// Publish writes msg to every connection of userID and returns how many
// accepted it. Connections that fail the write are dropped.
func (h *Hub) Publish(userID string, msg any) int {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := c.writeJSON(msg); err != nil {
			h.logger.Warn("ws send failed", zap.String("user_id", userID), zap.Error(err))
			h.Remove(c)
			continue
		}
		delivered++
	}
	return delivered
}

// Connections returns the number of open connections for userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Heartbeat pings every connection each interval and drops those silent for
// more than two intervals. It returns when ctx is cancelled.
func (h *Hub) Heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep(2 * interval)
		}
	}
}

func (h *Hub) sweep(maxSilence time.Duration) {
	h.mu.RLock()
	var all []*Conn
	for _, set := range h.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		if time.Since(c.seen()) > maxSilence {
			h.Remove(c)
			continue
		}
		if err := c.ping(); err != nil {
			h.Remove(c)
		}
	}
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Conn
	for _, set := range h.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.Remove(c)
	}
}

// Total returns the number of open connections across all users.
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.conns {
		n += len(set)
	}
	return n
}
