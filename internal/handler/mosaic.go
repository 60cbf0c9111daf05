package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/photomosaic/api/internal/jobstore"
	"github.com/photomosaic/api/internal/model"
	"github.com/photomosaic/api/internal/mosaic"
	"github.com/photomosaic/api/internal/pipeline"
	"github.com/photomosaic/api/internal/service"
	"github.com/photomosaic/api/pkg/response"
)

const defaultDecorations = 50

type MosaicHandler struct {
	service       *service.MosaicService
	validator     *validator.Validate
	maxUploadSize int64
}

func NewMosaicHandler(svc *service.MosaicService, v *validator.Validate, maxUploadSize int64) *MosaicHandler {
	return &MosaicHandler{
		service:       svc,
		validator:     v,
		maxUploadSize: maxUploadSize,
	}
}

// Start handles POST /api/mosaic/start
// @Summary      Start mosaic job
// @Description  Upload a photo and queue its preview mosaic
// @Tags         Mosaic
// @Accept       multipart/form-data
// @Produce      json
// @Param        file formData file true "Photo (JPEG, PNG, GIF, BMP, TIFF, WebP)"
// @Success      202 {object} model.StartMosaicResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      413 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/mosaic/start [post]
func (h *MosaicHandler) Start(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	if h.maxUploadSize > 0 && file.Size > h.maxUploadSize {
		return response.TooLarge(c, "File is too large", map[string]interface{}{
			"maxSize":  h.maxUploadSize,
			"fileSize": file.Size,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ValidationError(c, "Could not read upload", nil)
	}
	defer f.Close()

	result, err := h.service.Start(c.UserContext(), file.Filename, f)
	if err != nil {
		if errors.Is(err, service.ErrUnsupportedUpload) {
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// HQ handles POST /api/mosaic/hq/:jobId
// @Summary      Render high quality mosaic
// @Description  Queue the high quality render of a job whose preview is ready
// @Tags         Mosaic
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      202 {object} model.HQResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/mosaic/hq/{jobId} [post]
func (h *MosaicHandler) HQ(c *fiber.Ctx) error {
	var req model.HQRequest
	if err := c.ParamsParser(&req); err != nil {
		return response.ValidationError(c, "Invalid job ID", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.RequestHQ(c.UserContext(), req.JobID)
	if err != nil {
		return h.jobError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/mosaic/status/:jobId
// @Summary      Get mosaic job status
// @Description  Get the lifecycle state and progress of a mosaic job
// @Tags         Mosaic
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.MosaicStatusResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/mosaic/status/{jobId} [get]
func (h *MosaicHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.UserContext(), jobID)
	if err != nil {
		return h.jobError(c, err)
	}

	return response.OK(c, result)
}

// Result handles GET /api/mosaic/result/:jobId
// @Summary      Get mosaic job result
// @Description  Get the published preview and HQ outputs of a job
// @Tags         Mosaic
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.MosaicResultResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/mosaic/result/{jobId} [get]
func (h *MosaicHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetResult(c.UserContext(), jobID)
	if err != nil {
		return h.jobError(c, err)
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/mosaic/cancel/:jobId
// @Summary      Cancel mosaic job
// @Description  Cancel a queued or running mosaic job
// @Tags         Mosaic
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.CancelResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/mosaic/cancel/{jobId} [post]
func (h *MosaicHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(c.UserContext(), jobID)
	if err != nil {
		return h.jobError(c, err)
	}

	return response.OK(c, result)
}

// Retry handles POST /api/mosaic/retry/:jobId
// @Summary      Retry mosaic job
// @Description  Render a failed or cancelled job again from scratch
// @Tags         Mosaic
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      202 {object} model.StartMosaicResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/mosaic/retry/{jobId} [post]
func (h *MosaicHandler) Retry(c *fiber.Ctx) error {
	var req model.HQRequest
	if err := c.ParamsParser(&req); err != nil {
		return response.ValidationError(c, "Invalid job ID", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Retry(c.UserContext(), req.JobID)
	if err != nil {
		return h.jobError(c, err)
	}

	return response.Accepted(c, result)
}

// Decorations handles GET /api/mosaic/decorations
// @Summary      Decorative tiles
// @Description  Random library tiles placed on the preview grid
// @Tags         Mosaic
// @Produce      json
// @Param        n    query int false "Number of tiles (default 50)"
// @Param        seed query int false "Placement seed"
// @Success      200 {object} model.DecorationsResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/mosaic/decorations [get]
func (h *MosaicHandler) Decorations(c *fiber.Ctx) error {
	var req model.DecorationsRequest
	if err := c.QueryParser(&req); err != nil {
		return response.ValidationError(c, "Invalid query", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if req.N == 0 {
		req.N = defaultDecorations
	}

	result, err := h.service.Decorations(c.UserContext(), req.N, req.Seed)
	if err != nil {
		if errors.Is(err, mosaic.ErrLibraryEmpty) {
			return response.Conflict(c, "Tile library is empty", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// jobError maps service errors onto responses.
func (h *MosaicHandler) jobError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, pipeline.ErrNotReady),
		errors.Is(err, pipeline.ErrJobFinished),
		errors.Is(err, pipeline.ErrNotFailed),
		errors.Is(err, pipeline.ErrJobBusy),
		errors.Is(err, service.ErrNoOutput):
		return response.Conflict(c, err.Error(), nil)
	default:
		return response.ServiceError(c, err.Error())
	}
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
