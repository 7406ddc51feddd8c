package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/carzbazzar/api/internal/model"
	"github.com/carzbazzar/api/internal/service"
	"github.com/carzbazzar/api/pkg/response"
)

const (
	maxImageSize = 25 * 1024 * 1024  // 25MB
	maxVideoSize = 200 * 1024 * 1024 // 200MB
	maxWaitTime  = 10 * time.Minute
)

type UploadHandler struct {
	service   *service.UploadService
	validator *validator.Validate
}

func NewUploadHandler(svc *service.UploadService, v *validator.Validate) *UploadHandler {
	return &UploadHandler{
		service:   svc,
		validator: v,
	}
}

// Capture handles POST /api/inspections/:inspectionId/media
func (h *UploadHandler) Capture(c *fiber.Ctx) error {
	inspectionID := c.Params("inspectionId")

	mediaType := model.MediaType(c.FormValue("type", string(model.MediaTypeImage)))
	req := model.CaptureMediaRequest{
		SectionKey: c.FormValue("sectionKey"),
		MediaType:  mediaType,
		Remark:     c.FormValue("remark"),
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	// Get file
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	maxSize := int64(maxImageSize)
	if mediaType == model.MediaTypeVideo {
		maxSize = maxVideoSize
	}
	if file.Size > maxSize {
		return response.ValidationError(c, "File size exceeds limit", map[string]interface{}{
			"maxSize":  maxSize,
			"fileSize": file.Size,
		})
	}

	// Validate file type
	contentType := file.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, string(mediaType)+"/") {
		return response.ValidationError(c, "File type does not match media type", map[string]interface{}{
			"contentType": contentType,
			"type":        mediaType,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	result, err := h.service.Capture(c.Context(), inspectionID, &req, f)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Created(c, result)
}

// List handles GET /api/uploads
func (h *UploadHandler) List(c *fiber.Ctx) error {
	return response.OK(c, h.service.List(c.Query("inspectionId")))
}

// Get handles GET /api/uploads/:taskId
func (h *UploadHandler) Get(c *fiber.Ctx) error {
	result, err := h.service.Get(c.Params("taskId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// Process handles POST /api/uploads/process
func (h *UploadHandler) Process(c *fiber.Ctx) error {
	result, err := h.service.Process(c.Context())
	if err != nil {
		return serviceError(c, err)
	}
	return response.Accepted(c, result)
}

// Retry handles POST /api/uploads/:taskId/retry
func (h *UploadHandler) Retry(c *fiber.Ctx) error {
	result, err := h.service.Retry(c.Context(), c.Params("taskId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// Wait handles GET /api/uploads/:taskId/wait?timeout=<seconds>
func (h *UploadHandler) Wait(c *fiber.Ctx) error {
	var timeout time.Duration
	if raw := c.Query("timeout"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs <= 0 {
			return response.ValidationError(c, "timeout must be a positive number of seconds", nil)
		}
		timeout = time.Duration(secs * float64(time.Second))
		if timeout > maxWaitTime {
			timeout = maxWaitTime
		}
	}

	result, err := h.service.Wait(c.Context(), c.Params("taskId"), timeout)
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// Evict handles DELETE /api/uploads/:taskId
func (h *UploadHandler) Evict(c *fiber.Ctx) error {
	if err := h.service.Evict(c.Context(), c.Params("taskId")); err != nil {
		return serviceError(c, err)
	}
	return response.NoContent(c)
}
