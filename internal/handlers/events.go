package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"github.com/vanpelt/claude-blocker/internal/logger"
	"github.com/vanpelt/claude-blocker/internal/services"
)

const (
	sseHeartbeatInterval = 30 * time.Second
	sseClientBuffer      = 100
)

// AppEvent is the envelope payload of an SSE message
type AppEvent struct {
	Type    services.EventType `json:"type"`
	Payload any                `json:"payload"`
}

type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
	Uptime    int64 `json:"uptime"`
}

type SSEMessage struct {
	Event     AppEvent `json:"event"`
	Timestamp int64    `json:"timestamp"`
	ID        string   `json:"id"`
}

// EventsHandler streams broadcast events to Server-Sent Events clients
type EventsHandler struct {
	store       *services.SessionStore
	broadcaster *services.Broadcaster
	startTime   time.Time
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(store *services.SessionStore) *EventsHandler {
	return &EventsHandler{
		store:       store,
		broadcaster: store.Broadcaster(),
		startTime:   time.Now(),
	}
}

func newSSEMessage(ev services.Event) SSEMessage {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	id := ev.ID
	if id == "" {
		id = uuid.New().String()
	}
	return SSEMessage{
		Event:     AppEvent{Type: ev.Type, Payload: ev.Payload},
		Timestamp: ts.UnixMilli(),
		ID:        id,
	}
}

func (h *EventsHandler) makeHeartbeat() SSEMessage {
	now := time.Now()
	return newSSEMessage(services.Event{
		Type: services.HeartbeatEvent,
		Payload: HeartbeatPayload{
			Timestamp: now.UnixMilli(),
			Uptime:    now.Sub(h.startTime).Milliseconds(),
		},
		Timestamp: now,
	})
}

func (h *EventsHandler) makeState() SSEMessage {
	return newSSEMessage(services.NewEvent(services.StateEvent, h.store.State()))
}

// writeSSE writes one message in event-stream framing and flushes it
func writeSSE(w *bufio.Writer, msg SSEMessage) error {
	if msg.Event.Type == "" {
		return nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return err
	}
	return w.Flush()
}

// HandleSSE streams state changes and backfill progress
// @Summary Subscribe to events
// @Description Server-Sent Events stream: the current state on connect, then every state change and backfill progress update. A heartbeat is sent every 30 seconds.
// @Tags events
// @Produce text/event-stream
// @Success 200 {object} SSEMessage
// @Router /v1/events [get]
func (h *EventsHandler) HandleSSE(c *fiber.Ctx) error {
	if ah := c.Get("Accept"); ah != "" && !strings.Contains(ah, "text/event-stream") && !strings.Contains(ah, "*/*") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "This endpoint only accepts Server-Sent Events (text/event-stream)",
		})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	clientID, events, cancel := h.broadcaster.Subscribe(sseClientBuffer)
	logger.Infof("📡 SSE client connected: %s from %s", clientID, c.IP())

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer func() {
			cancel()
			logger.Infof("📡 SSE client disconnected: %s", clientID)
		}()

		if writeSSE(w, h.makeHeartbeat()) != nil || writeSSE(w, h.makeState()) != nil {
			return
		}
		if last, ok := h.broadcaster.Last(services.BackfillProgressEvent); ok {
			if writeSSE(w, newSSEMessage(last)) != nil {
				return
			}
		}

		tick := time.NewTicker(sseHeartbeatInterval)
		defer tick.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := writeSSE(w, newSSEMessage(ev)); err != nil {
					return
				}
			case <-tick.C:
				if err := writeSSE(w, h.makeHeartbeat()); err != nil {
					return
				}
			}
		}
	}))

	return nil
}
