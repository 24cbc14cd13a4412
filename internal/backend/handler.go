package backend

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/adreel/studio/internal/client"
	"github.com/adreel/studio/internal/model"
	"github.com/adreel/studio/pkg/response"
)

const maxHistoryLimit = 100

type Handler struct {
	service   *JobService
	validator *validator.Validate
}

func NewHandler(service *JobService, v *validator.Validate) *Handler {
	return &Handler{service: service, validator: v}
}

// Register mounts the render backend routes
func (h *Handler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Post("/upload", h.Upload)
	app.Post("/jobs", h.Submit)
	app.Get("/jobs", h.History)
	app.Get("/jobs/:id", h.Status)
}

// Health handles GET /health
func (h *Handler) Health(c *fiber.Ctx) error {
	status := h.service.Health()
	if !status.OK {
		return c.Status(fiber.StatusServiceUnavailable).JSON(status)
	}
	return response.OK(c, status)
}

// Upload handles POST /upload
func (h *Handler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	result, err := h.service.StoreUpload(c.UserContext(), file.Filename, file.Header.Get("Content-Type"), file.Size, f)
	switch {
	case errors.Is(err, ErrTooLarge):
		return response.Error(c, fiber.StatusRequestEntityTooLarge, response.CodeValidationError, err.Error(), fiber.Map{
			"maxSize":  h.service.maxUploadSize,
			"fileSize": file.Size,
		})
	case errors.Is(err, ErrUnsupportedType):
		return response.Error(c, fiber.StatusUnsupportedMediaType, response.CodeValidationError, err.Error(), fiber.Map{
			"contentType": file.Header.Get("Content-Type"),
		})
	case err != nil:
		return response.ServiceError(c, err.Error())
	}
	return response.Created(c, result)
}

type submitBody struct {
	ProjectID  string            `json:"project_id" validate:"max=128"`
	Variations []model.Variation `json:"variations" validate:"required,min=1,max=50,dive"`
}

// Submit handles POST /jobs
func (h *Handler) Submit(c *fiber.Ctx) error {
	var body submitBody
	if err := c.BodyParser(&body); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&body); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	ids, err := h.service.Submit(c.UserContext(), &model.SubmitRequest{ProjectID: body.ProjectID, Variations: body.Variations})
	if err != nil {
		var ve *client.ValidationError
		if errors.As(err, &ve) {
			return response.ValidationError(c, ve.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}
	return response.Accepted(c, model.SubmitResponse{IDs: ids})
}

// Status handles GET /jobs/:id
func (h *Handler) Status(c *fiber.Ctx) error {
	job, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, job)
}

// History handles GET /jobs?limit=N
func (h *Handler) History(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit < 1 || limit > maxHistoryLimit {
		return response.ValidationError(c, "limit must be between 1 and "+strconv.Itoa(maxHistoryLimit), nil)
	}

	jobs, err := h.service.History(c.UserContext(), limit)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, model.HistoryResponse{Jobs: jobs})
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
