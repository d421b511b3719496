package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/vanpelt/claude-blocker/internal/models"
	"github.com/vanpelt/claude-blocker/internal/services"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// StatsResponse is the body of GET /v1/stats
type StatsResponse struct {
	Days   []models.DailyStats `json:"days"`
	Totals models.DailyStats   `json:"totals"`
}

// StateHandler serves the query surface over live state, history, stats and backfill
type StateHandler struct {
	// ctx bounds background work started by requests, such as backfill runs
	ctx      context.Context
	store    *services.SessionStore
	backfill *services.BackfillEngine
}

// NewStateHandler creates a new state handler
func NewStateHandler(ctx context.Context, store *services.SessionStore, backfill *services.BackfillEngine) *StateHandler {
	return &StateHandler{ctx: ctx, store: store, backfill: backfill}
}

// GetState returns the current derived state
// @Summary Get current state
// @Description Returns live sessions plus the blocked flag and working/waiting counts
// @Tags state
// @Produce json
// @Success 200 {object} models.StateSnapshot
// @Router /v1/state [get]
func (h *StateHandler) GetState(c *fiber.Ctx) error {
	return c.JSON(h.store.State())
}

// GetHistory returns recently ended sessions
// @Summary Get session history
// @Description Returns ended sessions from the retention window, most recent first
// @Tags state
// @Produce json
// @Param limit query int false "Maximum number of sessions (default 50)"
// @Success 200 {array} models.HistoricalSession
// @Router /v1/history [get]
func (h *StateHandler) GetHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be a positive integer",
		})
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return c.JSON(h.store.History().Recent(limit))
}

// GetStats returns daily statistics for a date or a date range
// @Summary Get daily stats
// @Description Returns per-day stats and their totals. Use date for one day, or from/to for a range.
// @Tags stats
// @Produce json
// @Param date query string false "Day (YYYY-MM-DD)"
// @Param from query string false "First day (YYYY-MM-DD)"
// @Param to query string false "Last day (YYYY-MM-DD)"
// @Success 200 {object} StatsResponse
// @Failure 400 {object} map[string]string
// @Router /v1/stats [get]
func (h *StateHandler) GetStats(c *fiber.Ctx) error {
	from, to := c.Query("from"), c.Query("to")
	if date := c.Query("date"); date != "" {
		from, to = date, date
	}
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(models.DateLayout, d); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "dates must be formatted as YYYY-MM-DD",
			})
		}
	}

	stats := h.store.Stats()
	return c.JSON(StatsResponse{
		Days:   stats.Range(from, to),
		Totals: stats.Totals(from, to),
	})
}

// GetBackfill returns backfill progress
// @Summary Get backfill progress
// @Tags stats
// @Produce json
// @Success 200 {object} models.BackfillProgress
// @Router /v1/backfill [get]
func (h *StateHandler) GetBackfill(c *fiber.Ctx) error {
	return c.JSON(h.backfill.Progress())
}

// TriggerBackfill starts a backfill run in the background
// @Summary Trigger backfill
// @Description Starts rebuilding daily stats from transcripts. Returns 409 with current progress if a run is active.
// @Tags stats
// @Produce json
// @Success 202 {object} models.BackfillProgress
// @Failure 409 {object} models.BackfillProgress
// @Router /v1/backfill [post]
func (h *StateHandler) TriggerBackfill(c *fiber.Ctx) error {
	// the run outlives the request
	progress, err := h.backfill.Trigger(h.ctx)
	if errors.Is(err, services.ErrBackfillRunning) {
		return c.Status(fiber.StatusConflict).JSON(progress)
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(progress)
}

// Health reports liveness
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *StateHandler) Health(c *fiber.Ctx) error {
	state := h.store.State()
	return c.JSON(fiber.Map{
		"status":   "ok",
		"sessions": len(state.Sessions),
		"blocked":  state.Blocked,
	})
}
