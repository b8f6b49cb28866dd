package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/bleedingxiko/ghoststream/internal/progress"
)

// Websocket keepalive cadence.
const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongWait     = 90 * time.Second
)

// WebSocketHandler bridges the progress broadcaster onto websocket
// clients.
type WebSocketHandler struct {
	broadcaster *progress.Broadcaster
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewWebSocketHandler creates a websocket handler.
func NewWebSocketHandler(broadcaster *progress.Broadcaster, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// LAN service; origin policy is handled by the CORS layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "ws_progress")),
	}
}

// Register registers the websocket route.
func (h *WebSocketHandler) Register(router *chi.Mux) {
	router.Get("/ws/progress", h.Serve)
}

// Serve upgrades the connection and relays broadcast events until the
// client disconnects. An optional job_id query parameter filters to one
// job.
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := h.broadcaster.Subscribe(r.URL.Query().Get("job_id"))
	defer h.broadcaster.Unsubscribe(sub.ID)
	defer conn.Close()

	h.logger.Debug("websocket client connected", slog.String("subscriber_id", sub.ID))

	// Reader: consume control frames and client pings. All writes happen
	// on the select loop below, so client pings are forwarded there
	// instead of answered in place.
	done := make(chan struct{})
	pings := make(chan struct{}, 1)
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

			// Application-level ping support for simple clients.
			var m map[string]any
			if json.Unmarshal(msg, &m) == nil && m["type"] == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	// Single writer: events, keepalive pings, and pong replies all go
	// out from this loop.
	for {
		select {
		case <-done:
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-pings:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(map[string]string{"type": "pong"}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
