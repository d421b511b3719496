package handlers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/vanpelt/claude-blocker/internal/logger"
	"github.com/vanpelt/claude-blocker/internal/models"
	"github.com/vanpelt/claude-blocker/internal/services"
)

// HooksHandler ingests Claude Code hook events
type HooksHandler struct {
	store *services.SessionStore
}

// NewHooksHandler creates a new hooks handler
func NewHooksHandler(store *services.SessionStore) *HooksHandler {
	return &HooksHandler{store: store}
}

// HandleHook applies one hook event to the session store
// @Summary Ingest a Claude Code hook event
// @Description Receives the JSON payload Claude Code passes to hook commands and updates session state
// @Tags hooks
// @Accept json
// @Produce json
// @Param event body models.HookEvent true "Hook event"
// @Success 200 {object} map[string]bool
// @Failure 400 {object} map[string]string
// @Router /v1/hooks [post]
func (h *HooksHandler) HandleHook(c *fiber.Ctx) error {
	var event models.HookEvent
	if err := json.Unmarshal(c.Body(), &event); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid hook payload: " + err.Error(),
		})
	}

	if err := h.store.HandleEvent(c.UserContext(), &event); err != nil {
		switch {
		case errors.Is(err, services.ErrMissingSessionID), errors.Is(err, services.ErrUnknownEvent):
			logger.Debugf("⚠️  Rejected hook event: %v", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		default:
			logger.Warnf("⚠️  Failed to handle %s for %s: %v", event.HookEventName, event.SessionID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}

	return c.JSON(fiber.Map{"ok": true})
}
