package handler

import (
	"io"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/trackparse/api/internal/model"
	"github.com/trackparse/api/internal/service"
	"github.com/trackparse/api/pkg/response"
)

// batchOptions validates the batch-level form fields.
type batchOptions struct {
	Priority int `validate:"min=1,max=5"`
}

// BatchHandler serves batch submission and aggregation.
type BatchHandler struct {
	service   *service.AnalysisService
	validator *validator.Validate
	analyze   *AnalyzeHandler
}

func NewBatchHandler(svc *service.AnalysisService, v *validator.Validate, analyze *AnalyzeHandler) *BatchHandler {
	return &BatchHandler{service: svc, validator: v, analyze: analyze}
}

// Submit handles POST /api/analyze/batch: an ordered list of audio files
// sharing one priority, fanned out as independent jobs.
func (h *BatchHandler) Submit(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return response.InvalidInput(c, "multipart form required", nil)
	}

	files := form.File["files"]
	if len(files) == 0 {
		return response.InvalidInput(c, "at least one file is required", nil)
	}

	priority := 1
	if raw := c.FormValue("priority"); raw != "" {
		priority, err = strconv.Atoi(raw)
		if err != nil {
			return response.InvalidInput(c, "priority must be an integer", nil)
		}
	}
	if err := h.validator.Struct(&batchOptions{Priority: priority}); err != nil {
		return response.InvalidInput(c, "priority must be between 1 and 5", nil)
	}

	opts := model.AnalysisOptions{
		Model:              model.ModelType(c.FormValue("model", string(model.DefaultModel))),
		Visualize:          formBool(c, "visualize"),
		Sonify:             formBool(c, "sonify"),
		IncludeActivations: formBool(c, "includeActivations"),
		IncludeEmbeddings:  formBool(c, "includeEmbeddings"),
	}
	if err := h.validator.Struct(&opts); err != nil {
		return response.InvalidInput(c, "invalid analysis options", err.Error())
	}

	subs := make([]*service.Submission, 0, len(files))
	for _, file := range files {
		f, err := file.Open()
		if err != nil {
			return response.ServiceError(c, "failed to open upload "+file.Filename)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return response.ServiceError(c, "failed to read upload "+file.Filename)
		}
		subs = append(subs, &service.Submission{
			Filename: file.Filename,
			Audio:    data,
			Options:  opts,
			Priority: priority,
		})
	}

	resp, jobErr := h.service.SubmitBatch(c.Context(), subs, priority)
	if jobErr != nil {
		return h.analyze.respondJobError(c, jobErr)
	}
	return response.Accepted(c, resp)
}

// Status handles GET /api/analyze/batch/:batchId/status.
func (h *BatchHandler) Status(c *fiber.Ctx) error {
	status, jobErr := h.service.BatchStatus(c.Params("batchId"))
	if jobErr != nil {
		return h.analyze.respondJobError(c, jobErr)
	}
	return response.OK(c, status)
}

// Result handles GET /api/analyze/batch/:batchId/result: per-item outcomes
// once every member is terminal, 202 with progress until then.
func (h *BatchHandler) Result(c *fiber.Ctx) error {
	result, complete, jobErr := h.service.BatchResult(c.Params("batchId"))
	if jobErr != nil {
		return h.analyze.respondJobError(c, jobErr)
	}
	if !complete {
		status, jobErr := h.service.BatchStatus(c.Params("batchId"))
		if jobErr != nil {
			return h.analyze.respondJobError(c, jobErr)
		}
		return response.Accepted(c, status)
	}
	return response.OK(c, result)
}

// List handles GET /api/analyze/batch.
func (h *BatchHandler) List(c *fiber.Ctx) error {
	batches := h.service.Batches()
	return response.OK(c, fiber.Map{
		"success":    true,
		"totalCount": len(batches),
		"batches":    batches,
	})
}
