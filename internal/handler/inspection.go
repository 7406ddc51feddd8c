package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/carzbazzar/api/internal/middleware"
	"github.com/carzbazzar/api/internal/model"
	"github.com/carzbazzar/api/internal/service"
	"github.com/carzbazzar/api/pkg/response"
)

type InspectionHandler struct {
	service   *service.InspectionService
	validator *validator.Validate
}

func NewInspectionHandler(svc *service.InspectionService, v *validator.Validate) *InspectionHandler {
	return &InspectionHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/inspections
func (h *InspectionHandler) Create(c *fiber.Ctx) error {
	var req model.CreateInspectionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Create(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Created(c, result)
}

// List handles GET /api/inspections
func (h *InspectionHandler) List(c *fiber.Ctx) error {
	return response.OK(c, h.service.List())
}

// Get handles GET /api/inspections/:inspectionId
func (h *InspectionHandler) Get(c *fiber.Ctx) error {
	result, err := h.service.Get(c.Params("inspectionId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// Delete handles DELETE /api/inspections/:inspectionId
func (h *InspectionHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), c.Params("inspectionId")); err != nil {
		return serviceError(c, err)
	}
	return response.NoContent(c)
}

// Complete handles POST /api/inspections/:inspectionId/complete
func (h *InspectionHandler) Complete(c *fiber.Ctx) error {
	result, err := h.service.Complete(c.Context(), c.Params("inspectionId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// SaveSection handles PUT /api/inspections/:inspectionId/sections/:sectionKey
func (h *InspectionHandler) SaveSection(c *fiber.Ctx) error {
	var req model.SaveSectionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.SaveSection(c.Context(), c.Params("inspectionId"), c.Params("sectionKey"), &req)
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// SaveCarDetails handles PUT /api/inspections/:inspectionId/car-details
func (h *InspectionHandler) SaveCarDetails(c *fiber.Ctx) error {
	var req model.SaveCarDetailsRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.SaveCarDetails(c.Context(), c.Params("inspectionId"), &req)
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}
