package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/observe"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Hub fans run events out to websocket subscribers. It implements
// observe.Sink so agents can publish to it directly. Slow subscribers miss
// events rather than stall a run.
type Hub struct {
	mu       sync.RWMutex
	nextID   int
	watchers map[int]*watcher
	logger   *zap.Logger
}

type watcher struct {
	runID string
	ch    chan observe.Event
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{watchers: map[int]*watcher{}, logger: logger.Named("hub")}
}

// Subscribe registers a watcher for runID, or every run when runID is empty.
func (h *Hub) Subscribe(runID string, buffer int) (int, <-chan observe.Event) {
	if buffer <= 0 {
		buffer = 64
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	w := &watcher{runID: runID, ch: make(chan observe.Event, buffer)}
	h.watchers[id] = w
	return id, w.ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if w, ok := h.watchers[id]; ok {
		delete(h.watchers, id)
		close(w.ch)
	}
}

// CloseAll drops every subscriber, which ends their websocket streams.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, w := range h.watchers {
		delete(h.watchers, id)
		close(w.ch)
	}
}

func (h *Hub) Emit(_ context.Context, event observe.Event) error {
	event.Normalize()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, w := range h.watchers {
		if w.runID != "" && w.runID != event.RunID {
			continue
		}
		select {
		case w.ch <- event:
		default:
		}
	}
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// serveEvents streams events as JSON text frames until the client goes away
// or the hub drops the subscription.
func (h *Hub) serveEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	// Subscribe first so no event is missed between handshake and stream.
	id, events := h.Subscribe(runID, 0)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Unsubscribe(id)
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.logger.Debug("subscriber connected", zap.Int("id", id), zap.String("run_id", runID))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.Unsubscribe(id)
		conn.Close()
		<-closed
		h.logger.Debug("subscriber disconnected", zap.Int("id", id))
	}()
	for {
		select {
		case <-closed:
			return
		case event, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			raw, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
