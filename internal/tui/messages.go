package tui

import (
	"time"

	"github.com/vanpelt/claude-blocker/internal/models"
)

type tickMsg time.Time

// Stream messages
type stateMsg models.StateSnapshot
type connectedMsg struct{}
type disconnectedMsg struct {
	err error
}
