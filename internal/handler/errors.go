package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/carzbazzar/api/internal/media"
	"github.com/carzbazzar/api/internal/queue"
	"github.com/carzbazzar/api/internal/service"
	"github.com/carzbazzar/api/internal/store"
	"github.com/carzbazzar/api/pkg/response"
)

// serviceError maps service and queue errors to the error envelope
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, queue.ErrInspectionNotFound):
		return response.NotFound(c, "Inspection not found")
	case errors.Is(err, queue.ErrTaskNotFound):
		return response.NotFound(c, "Upload task not found")
	case errors.Is(err, store.ErrDocumentNotFound):
		return response.NotFound(c, "Inspection document not found")
	case errors.Is(err, queue.ErrTimeout):
		return response.Timeout(c, "Upload did not settle in time", nil)
	case errors.Is(err, queue.ErrUploadFailed):
		return response.UploadFailed(c, "Upload failed", map[string]interface{}{
			"reason": err.Error(),
		})
	case errors.Is(err, queue.ErrTaskInFlight),
		errors.Is(err, queue.ErrNotRetryable),
		errors.Is(err, service.ErrUploadsPending):
		return response.Conflict(c, err.Error())
	case errors.Is(err, media.ErrInvalidSectionKey),
		errors.Is(err, service.ErrInvalidField):
		return response.ValidationError(c, err.Error(), nil)
	}
	return response.ServiceError(c, err.Error())
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
