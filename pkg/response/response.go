package response

import "github.com/gofiber/fiber/v2"

// Error codes
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeCapacityExceeded = "CAPACITY_EXCEEDED"
	CodeAnalysisFailure  = "ANALYSIS_FAILURE"
	CodeTimeout          = "TIMEOUT"
	CodeNotFound         = "NOT_FOUND"
	CodeCancelled        = "CANCELLED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeServiceError     = "SERVICE_ERROR"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func InvalidInput(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeInvalidInput, message, details)
}

// CapacityExceeded carries an estimated wait hint so clients can back off.
func CapacityExceeded(c *fiber.Ctx, message, estimatedWait string) error {
	return Error(c, fiber.StatusTooManyRequests, CodeCapacityExceeded, message, fiber.Map{
		"estimatedWait": estimatedWait,
	})
}

func AnalysisFailure(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusUnprocessableEntity, CodeAnalysisFailure, message, details)
}

func Timeout(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusGatewayTimeout, CodeTimeout, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func Cancelled(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusConflict, CodeCancelled, message, nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}
