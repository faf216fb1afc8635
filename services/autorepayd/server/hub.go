package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"autorepay/core/events"

	"nhooyr.io/websocket"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// Hub fans engine events out to websocket subscribers. It satisfies
// events.Emitter; slow subscribers miss events instead of blocking the engine.
type Hub struct {
	logger  *slog.Logger
	origins []string

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch     chan []byte
	topics map[string]struct{}
}

func (s *subscriber) wants(eventType string) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[eventType]
	return ok
}

func NewHub(logger *slog.Logger, origins ...string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Hub{logger: logger, origins: origins, subs: make(map[*subscriber]struct{})}
}

// Subscribers reports the number of connected streams.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Emit implements events.Emitter.
func (h *Hub) Emit(ev events.Event) {
	rec := events.ToRecord(ev)
	if rec == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.wants(rec.Type) {
			continue
		}
		select {
		case sub.ch <- data:
		default:
			h.logger.Warn("websocket subscriber lagging, event dropped", slog.String("type", rec.Type))
		}
	}
}

func (h *Hub) subscribe(topics []string) *subscriber {
	sub := &subscriber{ch: make(chan []byte, subscriberBuffer)}
	for _, topic := range topics {
		if trimmed := strings.TrimSpace(topic); trimmed != "" {
			if sub.topics == nil {
				sub.topics = make(map[string]struct{})
			}
			sub.topics[trimmed] = struct{}{}
		}
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams event records until the client
// goes away. The optional types query parameter filters by event type.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var topics []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		topics = strings.Split(raw, ",")
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	sub := h.subscribe(topics)
	defer h.unsubscribe(sub)

	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, sub); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, sub *subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-sub.ch:
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
