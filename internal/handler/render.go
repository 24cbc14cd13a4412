package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/adreel/studio/internal/model"
	"github.com/adreel/studio/internal/service"
	"github.com/adreel/studio/pkg/response"
)

const maxHistoryLimit = 100

// RenderHandler serves session-less render backend views.
type RenderHandler struct {
	gateway *service.RenderGateway
}

func NewRenderHandler(gateway *service.RenderGateway) *RenderHandler {
	return &RenderHandler{gateway: gateway}
}

// Health handles GET /health. The render backend's health is advisory, so the
// studio itself always answers 200.
func (h *RenderHandler) Health(c *fiber.Ctx) error {
	backend := h.gateway.Health(c.UserContext())
	return response.OK(c, fiber.Map{
		"status":  "ok",
		"backend": backend,
	})
}

// History handles GET /api/history?limit=N
func (h *RenderHandler) History(c *fiber.Ctx) error {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			return response.ValidationError(c, "limit must be between 1 and 100", fiber.Map{"limit": raw})
		}
		limit = n
	}

	jobs, err := h.gateway.History(c.UserContext(), limit)
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, model.HistoryResponse{Jobs: jobs})
}
