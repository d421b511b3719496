package handlers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/vanpelt/claude-blocker/internal/logger"
	"github.com/vanpelt/claude-blocker/internal/recovery"
	"github.com/vanpelt/claude-blocker/internal/services"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsClientBuffer = 32
)

// WSMessage is a control message exchanged over the state WebSocket
type WSMessage struct {
	Type string `json:"type"`
}

// WebSocketHandler pushes state snapshots over a WebSocket
type WebSocketHandler struct {
	store *services.SessionStore
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(store *services.SessionStore) *WebSocketHandler {
	return &WebSocketHandler{store: store}
}

// HandleWebSocket upgrades the connection and streams state
// @Summary State WebSocket
// @Description Sends the current state on connect and after every change. Replies to {"type":"ping"} with {"type":"pong"}.
// @Tags events
// @Success 101 {string} string "Switching Protocols"
// @Router /ws [get]
func (h *WebSocketHandler) HandleWebSocket(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return websocket.New(h.handleConnection)(c)
	}
	return fiber.ErrUpgradeRequired
}

func (h *WebSocketHandler) handleConnection(conn *websocket.Conn) {
	clientID, events, cancel := h.store.Broadcaster().Subscribe(wsClientBuffer)
	defer cancel()
	logger.Debugf("🔌 WebSocket client connected: %s", clientID)

	// all writes happen on this goroutine; the reader only queues replies
	replies := make(chan WSMessage, 4)
	done := make(chan struct{})

	recovery.SafeGoWithCleanup("ws-reader-"+clientID, func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "ping" {
				select {
				case replies <- WSMessage{Type: "pong"}:
				default:
				}
			}
		}
	}, func() { close(done) })

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v) == nil
	}

	if !write(h.store.State()) {
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != services.StateEvent {
				continue
			}
			if !write(ev.Payload) {
				return
			}
		case reply := <-replies:
			if !write(reply) {
				return
			}
		case <-done:
			logger.Debugf("🔌 WebSocket client disconnected: %s", clientID)
			return
		}
	}
}
