package handler

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/adreel/studio/internal/client"
	"github.com/adreel/studio/internal/service"
	"github.com/adreel/studio/internal/wizard"
	"github.com/adreel/studio/pkg/response"
)

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

// writeError maps the error taxonomy onto the response envelope. Backend
// rejections keep their status and text.
func writeError(c *fiber.Ctx, err error) error {
	var (
		ve *client.ValidationError
		be *client.BackendError
	)

	switch {
	case errors.As(err, &ve):
		return response.ValidationError(c, ve.Error(), fiber.Map{"field": ve.Field})
	case errors.Is(err, service.ErrSessionNotFound):
		return response.NotFound(c, "Session not found")
	case errors.Is(err, wizard.ErrStepLocked), errors.Is(err, wizard.ErrUnknownStep):
		return response.Conflict(c, response.CodeStepLocked, err.Error())
	case errors.Is(err, service.ErrBatchInFlight), errors.Is(err, service.ErrSessionReset):
		return response.Conflict(c, response.CodeConflict, err.Error())
	case errors.As(err, &be):
		status := be.StatusCode
		if status < http.StatusBadRequest || status >= http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		return response.BackendRejected(c, status, be.Message)
	case client.IsUnreachable(err):
		return response.BackendUnavailable(c, err.Error())
	default:
		return response.ServiceError(c, err.Error())
	}
}
