package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/vanpelt/claude-blocker/internal/logger"
	"github.com/vanpelt/claude-blocker/internal/services"
)

// AppOptions configures NewApp
type AppOptions struct {
	// Context bounds background work started by requests
	Context   context.Context
	Store     *services.SessionStore
	Backfill  *services.BackfillEngine
	AccessLog bool
}

// NewApp builds the fiber app serving hook ingestion, the query API and the push streams
func NewApp(opts AppOptions) *fiber.App {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	app := fiber.New(fiber.Config{
		AppName:               "claude-blocker",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(SamplingLogger("/hook", "/v1/hooks"))
	}
	// the browser extension polls from its own origin
	app.Use(cors.New())

	hooks := NewHooksHandler(opts.Store)
	state := NewStateHandler(ctx, opts.Store, opts.Backfill)
	events := NewEventsHandler(opts.Store)
	ws := NewWebSocketHandler(opts.Store)

	app.Get("/health", state.Health)
	app.Post("/hook", hooks.HandleHook)
	app.Get("/ws", ws.HandleWebSocket)

	v1 := app.Group("/v1")
	v1.Post("/hooks", hooks.HandleHook)
	v1.Get("/state", state.GetState)
	v1.Get("/history", state.GetHistory)
	v1.Get("/stats", state.GetStats)
	v1.Get("/backfill", state.GetBackfill)
	v1.Post("/backfill", state.TriggerBackfill)
	v1.Get("/events", events.HandleSSE)

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		logger.Errorf("❌ %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
