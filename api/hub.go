package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	match "github.com/0x5487/mocktrading"
	"github.com/0x5487/mocktrading/protocol"
)

// Hub tracks websocket sessions and pushes order book events to the
// sessions subscribed to the event's symbol. It implements match.PublishLog.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*session]struct{}
	closed   bool
	dropped  atomic.Int64
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions: make(map[*session]struct{}),
		logger:   logger.With(slog.String("component", "ws_hub")),
	}
}

func (h *Hub) register(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	h.logger.Info("session connected", slog.String("session_id", s.id), slog.Int("total", len(h.sessions)))
	return true
}

// unregister closes the session's send channel. It is safe to call twice.
func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	close(s.send)
	h.logger.Info("session disconnected", slog.String("session_id", s.id), slog.Int("total", len(h.sessions)))
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Dropped returns how many pushes were skipped because a session was slow.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Publish implements match.PublishLog. It never blocks: a session whose
// buffer is full misses the event.
func (h *Hub) Publish(logs ...*match.OrderBookLog) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.sessions) == 0 {
		return
	}

	for _, log := range logs {
		var msg []byte
		for s := range h.sessions {
			if !s.isSubscribed(log.StockCode) {
				continue
			}
			if msg == nil {
				b, err := json.Marshal(&protocol.Response{
					Type:      protocol.RespEvent,
					Data:      log,
					Timestamp: time.Now().UnixMilli(),
				})
				if err != nil {
					h.logger.Error("failed to marshal event", slog.String("type", string(log.Type)), slog.Any("error", err))
					break
				}
				msg = b
			}

			select {
			case s.send <- msg:
			default:
				h.dropped.Add(1)
			}
		}
	}
}

// Close disconnects every session and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		_ = s.conn.Close()
	}
}
