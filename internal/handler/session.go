package handler

import (
	"context"
	"encoding/json"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/adreel/studio/internal/client"
	"github.com/adreel/studio/internal/model"
	"github.com/adreel/studio/internal/service"
	ws "github.com/adreel/studio/internal/websocket"
	"github.com/adreel/studio/internal/wizard"
	"github.com/adreel/studio/pkg/response"
)

type SessionHandler struct {
	sessions  *service.SessionManager
	validator *validator.Validate
}

func NewSessionHandler(sessions *service.SessionManager, v *validator.Validate) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		validator: v,
	}
}

func (h *SessionHandler) session(c *fiber.Ctx) (*service.Pipeline, error) {
	return h.sessions.Get(c.UserContext(), c.Params("id"))
}

// parse decodes and validates a JSON body. It writes the error response
// itself and reports whether the handler should continue.
func (h *SessionHandler) parse(c *fiber.Ctx, req interface{}) (bool, error) {
	if err := c.BodyParser(req); err != nil {
		return false, response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(req); err != nil {
		return false, response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	return true, nil
}

// Create handles POST /api/sessions
func (h *SessionHandler) Create(c *fiber.Ctx) error {
	var req model.CreateSessionRequest
	if len(c.Body()) > 0 {
		if ok, err := h.parse(c, &req); !ok {
			return err
		}
	}

	p, err := h.sessions.Create(c.UserContext(), req.ProjectID)
	if err != nil {
		return writeError(c, err)
	}
	return response.Created(c, p.Snapshot())
}

// Get handles GET /api/sessions/:id
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	p, err := h.session(c)
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, p.Snapshot())
}

// Upload handles POST /api/sessions/:id/upload
func (h *SessionHandler) Upload(c *fiber.Ctx) error {
	p, err := h.session(c)
	if err != nil {
		return writeError(c, err)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	result, err := p.UploadSource(c.UserContext(), client.Asset{
		Name:        file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Body:        f,
	})
	if err != nil {
		return writeError(c, err)
	}
	return response.Created(c, result)
}

// Analysis handles POST /api/sessions/:id/analysis
func (h *SessionHandler) Analysis(c *fiber.Ctx) error {
	p, err := h.session(c)
	if err != nil {
		return writeError(c, err)
	}

	var req model.AnalysisRequest
	if ok, err := h.parse(c, &req); !ok {
		return err
	}
	if err := p.SetAnalysis(req.Analysis); err != nil {
		return writeError(c, err)
	}
	return response.OK(c, p.WizardState())
}

// Strategy handles POST /api/sessions/:id/strategy
func (h *SessionHandler) Strategy(c *fiber.Ctx) error {
	p, err := h.session(c)
	if err != nil {
		return writeError(c, err)
	}

	var req model.StrategyRequest
	if ok, err := h.parse(c, &req); !ok {
		return err
	}
	if err := p.SetStrategy(req.Blueprint); err != nil {
		return writeError(c, err)
	}
	return response.OK(c, p.WizardState())
}

// Review handles POST /api/sessions/:id/review
func (h *SessionHandler) Review(c *fiber.Ctx) error {
	p, err := h.session(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := p.ApproveReview(); err != nil {
		return writeError(c, err)
	}
	return response.OK(c, p.WizardState())
}

// Submit handles POST /api/sessions/:id/submit
func (h *SessionHandler) Submit(c *fiber.Ctx) error {
	p, err := h.session(c)
	if err != nil {
		return writeError(c, err)
	}

	var req model.SubmitBatchRequest
	if ok, err := h.parse(c, &req); !ok {
		return err
	}

	sub, err := p.Submit(c.UserContext(), req.VariationCount)
	if err != nil {
		return writeError(c, err)
	}

	ids := make([]string, len(sub.Refs))
	for i, ref := range sub.Refs {
		ids[i] = ref.JobID()
	}
	return response.Accepted(c, model.SubmitBatchResponse{
		JobIDs:       ids,
		VariationIDs: sub.VariationIDs,
		Preview:      sub.Preview,
	})
}

// Navigate handles POST /api/sessions/:id/navigate. Unreachable steps are
// not an error; the response says whether the move happened.
func (h *SessionHandler) Navigate(c *fiber.Ctx) error {
	p, err := h.session(c)
	if err != nil {
		return writeError(c, err)
	}

	var req model.StepRequest
	if ok, err := h.parse(c, &req); !ok {
		return err
	}

	moved := p.Navigate(wizard.Step(req.Step))
	return response.OK(c, model.NavigateResponse{Navigated: moved, Wizard: p.WizardState()})
}

// Complete handles POST /api/sessions/:id/complete
func (h *SessionHandler) Complete(c *fiber.Ctx) error {
	p, err := h.session(c)
	if err != nil {
		return writeError(c, err)
	}

	var req model.StepRequest
	if ok, err := h.parse(c, &req); !ok {
		return err
	}
	if err := p.CompleteStep(wizard.Step(req.Step)); err != nil {
		return writeError(c, err)
	}
	return response.OK(c, p.WizardState())
}

// Reset handles POST /api/sessions/:id/reset
func (h *SessionHandler) Reset(c *fiber.Ctx) error {
	p, err := h.session(c)
	if err != nil {
		return writeError(c, err)
	}
	p.Reset()
	return response.OK(c, p.Snapshot())
}

// Jobs handles GET /api/sessions/:id/jobs
func (h *SessionHandler) Jobs(c *fiber.Ctx) error {
	p, err := h.session(c)
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, model.SessionJobsResponse{Jobs: p.Jobs(), Polling: p.Polling()})
}

// RequireSession rejects websocket upgrades for unknown sessions.
func (h *SessionHandler) RequireSession(c *fiber.Ctx) error {
	if _, err := h.session(c); err != nil {
		return writeError(c, err)
	}
	return c.Next()
}

// Stream serves GET /ws/sessions/:id. The subscriber first receives the full
// snapshot, then every session event.
func (h *SessionHandler) Stream(hub *ws.Hub) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		id := c.Params("id")
		p, err := h.sessions.Get(context.Background(), id)
		if err != nil {
			log.Printf("[WS] session %s unavailable: %v", id, err)
			return
		}

		initial, err := json.Marshal(model.WSSnapshotMessage{
			Type:    model.WSMessageTypeSnapshot,
			Session: p.Snapshot(),
		})
		if err != nil {
			log.Printf("[WS] failed to marshal snapshot: %v", err)
			initial = nil
		}
		hub.HandleConnection(c, id, initial)
	})
}
