package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // authenticated via basic auth before the upgrade
	},
}

const writeTimeout = 10 * time.Second

// WebSocketHandler streams pipeline events to admin clients
type WebSocketHandler struct {
	hub    *events.Hub
	logger arbor.ILogger
}

// NewWebSocketHandler creates a websocket event handler
func NewWebSocketHandler(hub *events.Hub, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		logger: logger,
	}
}

// EventsHandler handles GET /admin/events, upgrading to a websocket and
// forwarding pipeline events until the client disconnects
func (h *WebSocketHandler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sub, cancel := h.hub.Subscribe(64)
	defer cancel()

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Event subscriber connected")

	// Reader goroutine exists only to detect client close
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Debug().Err(err).Msg("Event subscriber write failed, closing")
				return
			}
		}
	}
}
