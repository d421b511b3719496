package tui

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/vanpelt/claude-blocker/internal/logger"
	"github.com/vanpelt/claude-blocker/internal/models"
	"github.com/vanpelt/claude-blocker/internal/recovery"
)

const (
	pingInterval = 20 * time.Second
	readTimeout  = 2 * pingInterval
	maxRetry     = 30 * time.Second
)

// StreamClient follows the tracker's WebSocket stream and forwards every state snapshot
type StreamClient struct {
	url    string
	send   func(tea.Msg)
	dialer *websocket.Dialer

	stopCh   chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	conn     *websocket.Conn
}

// NewStreamClient creates a client for url. send receives stateMsg, connectedMsg and
// disconnectedMsg values; tea.Program.Send fits.
func NewStreamClient(url string, send func(tea.Msg)) *StreamClient {
	return &StreamClient{
		url:    url,
		send:   send,
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		stopCh: make(chan struct{}),
	}
}

// Start connects in the background, reconnecting with backoff until Stop
func (c *StreamClient) Start() {
	recovery.SafeGo("tui-stream", c.connect)
}

// Stop closes the connection and ends the reconnect loop
func (c *StreamClient) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
	})
}

func (c *StreamClient) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *StreamClient) connect() {
	retryCount := 0
	for !c.stopped() {
		connected, err := c.handleConnection()
		if c.stopped() {
			return
		}
		if connected {
			retryCount = 0
		}
		c.send(disconnectedMsg{err: err})

		retryCount++
		delay := time.Duration(retryCount) * time.Second
		if delay > maxRetry {
			delay = maxRetry
		}
		logger.Debugf("🔌 Stream disconnected (%v), retrying in %v", err, delay)

		select {
		case <-c.stopCh:
			return
		case <-time.After(delay):
		}
	}
}

// handleConnection runs one connection until it fails. connected reports whether the
// handshake succeeded.
func (c *StreamClient) handleConnection() (connected bool, err error) {
	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	c.send(connectedMsg{})

	done := make(chan struct{})
	defer close(done)
	recovery.SafeGo("tui-stream-ping", func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.mu.Lock()
				werr := conn.WriteJSON(map[string]string{"type": "ping"})
				c.mu.Unlock()
				if werr != nil {
					return
				}
			}
		}
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		if state, ok := decodeState(data); ok {
			c.send(stateMsg(state))
		}
	}
}

// decodeState picks state snapshots out of the stream, ignoring pongs
func decodeState(data []byte) (models.StateSnapshot, bool) {
	var state models.StateSnapshot
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Debugf("🔌 Ignoring malformed stream message: %v", err)
		return state, false
	}
	return state, state.Type == "state"
}
