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

// AnalyzeHandler serves the synchronous and asynchronous submission surface.
type AnalyzeHandler struct {
	service   *service.AnalysisService
	validator *validator.Validate
}

func NewAnalyzeHandler(svc *service.AnalysisService, v *validator.Validate) *AnalyzeHandler {
	return &AnalyzeHandler{service: svc, validator: v}
}

// readSubmission extracts the uploaded file and analysis options from a
// multipart form.
func (h *AnalyzeHandler) readSubmission(c *fiber.Ctx) (*service.Submission, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return nil, response.InvalidInput(c, "file is required", nil)
	}

	f, err := file.Open()
	if err != nil {
		return nil, response.ServiceError(c, "failed to open upload")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, response.ServiceError(c, "failed to read upload")
	}

	opts := model.AnalysisOptions{
		Model:              model.ModelType(c.FormValue("model", string(model.DefaultModel))),
		Visualize:          formBool(c, "visualize"),
		Sonify:             formBool(c, "sonify"),
		IncludeActivations: formBool(c, "includeActivations"),
		IncludeEmbeddings:  formBool(c, "includeEmbeddings"),
	}
	if err := h.validator.Struct(&opts); err != nil {
		return nil, response.InvalidInput(c, "invalid analysis options", err.Error())
	}

	return &service.Submission{
		Filename: file.Filename,
		Audio:    data,
		Options:  opts,
	}, nil
}

// Sync handles POST /api/analyze: submits a job and blocks the caller until
// completion or timeout.
func (h *AnalyzeHandler) Sync(c *fiber.Ctx) error {
	sub, err := h.readSubmission(c)
	if err != nil {
		return err
	}

	job, jobErr := h.service.AnalyzeSync(c.Context(), sub)
	if jobErr != nil {
		return h.respondJobError(c, jobErr)
	}
	if job.Status != model.JobStatusSucceeded {
		return h.respondJobError(c, job.Error)
	}
	return response.OK(c, buildAnalyzeResponse(job))
}

// Async handles POST /api/analyze/async: submits a job and returns its id
// immediately for polling.
func (h *AnalyzeHandler) Async(c *fiber.Ctx) error {
	sub, err := h.readSubmission(c)
	if err != nil {
		return err
	}

	job, jobErr := h.service.SubmitAsync(c.Context(), sub)
	if jobErr != nil {
		return h.respondJobError(c, jobErr)
	}
	return response.Accepted(c, model.AsyncSubmitResponse{
		Success:       true,
		Message:       "analysis accepted",
		RequestID:     job.ID,
		EstimatedTime: h.service.EstimateWait(),
		StatusURL:     "/api/analyze/status/" + job.ID,
	})
}

// Status handles GET /api/analyze/status/:requestId.
func (h *AnalyzeHandler) Status(c *fiber.Ctx) error {
	progress, jobErr := h.service.GetProgress(c.Params("requestId"))
	if jobErr != nil {
		return h.respondJobError(c, jobErr)
	}
	return response.OK(c, progress)
}

// Result handles GET /api/analyze/result/:requestId. Retrieval is idempotent
// while the record has not been purged.
func (h *AnalyzeHandler) Result(c *fiber.Ctx) error {
	job, jobErr := h.service.GetJob(c.Params("requestId"))
	if jobErr != nil {
		return h.respondJobError(c, jobErr)
	}

	switch job.Status {
	case model.JobStatusSucceeded:
		return response.OK(c, buildAnalyzeResponse(job))
	case model.JobStatusFailed, model.JobStatusCancelled:
		return h.respondJobError(c, job.Error)
	default:
		return response.Accepted(c, fiber.Map{
			"success":   false,
			"message":   "analysis still in progress",
			"status":    job.Status,
			"statusUrl": "/api/analyze/status/" + job.ID,
		})
	}
}

// Cancel handles POST /api/analyze/cancel/:requestId.
func (h *AnalyzeHandler) Cancel(c *fiber.Ctx) error {
	job, jobErr := h.service.Cancel(c.Params("requestId"))
	if jobErr != nil {
		return h.respondJobError(c, jobErr)
	}
	return response.OK(c, model.CancelResponse{
		Success:   true,
		RequestID: job.ID,
		Status:    job.Status,
	})
}

func (h *AnalyzeHandler) respondJobError(c *fiber.Ctx, jobErr *model.JobError) error {
	if jobErr == nil {
		return response.ServiceError(c, "job finished without result or error")
	}
	switch jobErr.Kind {
	case model.ErrInvalidInput:
		return response.InvalidInput(c, jobErr.Message, nil)
	case model.ErrCapacityExceeded:
		return response.CapacityExceeded(c, jobErr.Message, h.service.EstimateWait())
	case model.ErrTimeout:
		return response.Timeout(c, jobErr.Message)
	case model.ErrNotFound:
		return response.NotFound(c, jobErr.Message)
	case model.ErrCancelled:
		return response.Cancelled(c, jobErr.Message)
	default:
		return response.AnalysisFailure(c, jobErr.Message, fiber.Map{"step": jobErr.Step})
	}
}

func buildAnalyzeResponse(job model.Job) model.AnalyzeResponse {
	var processing float64
	if job.StartedAt != nil && job.FinishedAt != nil {
		processing = job.FinishedAt.Sub(*job.StartedAt).Seconds()
	}
	modelUsed := job.Options.Model
	if modelUsed == "" {
		modelUsed = model.DefaultModel
	}
	return model.AnalyzeResponse{
		Success:        true,
		Message:        "analysis complete",
		Data:           job.Result,
		ProcessingTime: processing,
		ModelUsed:      modelUsed,
		RequestID:      job.ID,
	}
}

func formBool(c *fiber.Ctx, key string) bool {
	v, err := strconv.ParseBool(c.FormValue(key, "false"))
	return err == nil && v
}
