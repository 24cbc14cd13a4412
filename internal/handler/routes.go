package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/adreel/studio/internal/config"
	"github.com/adreel/studio/internal/middleware"
	ws "github.com/adreel/studio/internal/websocket"
)

// Register mounts the studio API on app. hub may be nil, in which case no
// websocket route is mounted.
func Register(app *fiber.App, sessions *SessionHandler, render *RenderHandler, limiter *middleware.RateLimiter, limits config.RateLimitConfig, hub *ws.Hub) {
	app.Get("/health", render.Health)

	api := app.Group("/api")
	api.Get("/history", render.History)

	s := api.Group("/sessions")
	s.Post("/", limiter.CreateLimit(limits.SessionPerHour), sessions.Create)
	s.Get("/:id", sessions.Get)
	s.Post("/:id/upload", limiter.UploadLimit(limits.UploadPerHour), sessions.Upload)
	s.Post("/:id/analysis", sessions.Analysis)
	s.Post("/:id/strategy", sessions.Strategy)
	s.Post("/:id/review", sessions.Review)
	s.Post("/:id/submit", limiter.SubmitLimit(limits.SubmitPerHour), sessions.Submit)
	s.Post("/:id/navigate", sessions.Navigate)
	s.Post("/:id/complete", sessions.Complete)
	s.Post("/:id/reset", sessions.Reset)
	s.Get("/:id/jobs", sessions.Jobs)

	if hub == nil {
		return
	}
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/sessions/:id", sessions.RequireSession, sessions.Stream(hub))
}
