package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"stockledger/internal/models"
)

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

func ErrorHandlerMiddleware() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		c.Next()

		// Handle any errors that occurred during request processing
		if len(c.Errors) > 0 {
			err := c.Errors.Last()

			requestID := getRequestID(c)
			if requestID != "" {
				c.Header("X-Request-ID", requestID)
			}

			switch err.Type {
			case gin.ErrorTypeBind:
				handleValidationError(c, err.Err)
			case gin.ErrorTypePublic:
				handleLedgerError(c, err.Err)
			default:
				handleInternalError(c, err.Err)
			}
		}
	})
}

// ResponseHelpers provides methods for REST-native responses
type ResponseHelpers struct{}

// Success sends the resource directly (no wrapper)
func (h *ResponseHelpers) Success(c *gin.Context, resource interface{}) {
	c.JSON(200, resource)
}

// Created sends a 201 created response with the created resource
func (h *ResponseHelpers) Created(c *gin.Context, resource interface{}) {
	c.JSON(201, resource)
}

// NoContent sends a 204 no content response
func (h *ResponseHelpers) NoContent(c *gin.Context) {
	c.Status(204)
}

func (h *ResponseHelpers) ValidationError(c *gin.Context, field, message string) {
	problem := models.NewValidationProblem(field, message, models.ErrorCodeInvalidField)
	h.setRequestIDHeader(c)
	c.JSON(400, problem)
}

func (h *ResponseHelpers) MultiValidationError(c *gin.Context, violations []models.ValidationError) {
	problem := models.NewMultiValidationProblem(violations)
	h.setRequestIDHeader(c)
	c.JSON(400, problem)
}

// BusinessError sends a business logic error (409 or 422)
func (h *ResponseHelpers) BusinessError(c *gin.Context, status int, title, detail string, code models.ErrorCode) {
	problem := models.NewBusinessLogicProblem(status, title, detail, code)
	h.setRequestIDHeader(c)
	c.JSON(status, problem)
}

// NotFound sends a 404 not found response
func (h *ResponseHelpers) NotFound(c *gin.Context, resource string) {
	problem := models.NewNotFoundProblem(resource)
	h.setRequestIDHeader(c)
	c.JSON(404, problem)
}

// Busy sends a 503 response with a Retry-After hint; the record lock wait
// bound was exceeded and the caller should retry with backoff.
func (h *ResponseHelpers) Busy(c *gin.Context, detail string) {
	problem := models.NewBusyProblem(detail)
	h.setRequestIDHeader(c)
	c.Header("Retry-After", "1")
	c.JSON(503, problem)
}

// Conflict sends a 409 conflict response
func (h *ResponseHelpers) Conflict(c *gin.Context, title, detail string) {
	problem := models.NewProblemDetails(409, title, detail)
	h.setRequestIDHeader(c)
	c.JSON(409, problem)
}

// UnprocessableEntity sends a 422 unprocessable entity response
func (h *ResponseHelpers) UnprocessableEntity(c *gin.Context, title, detail string) {
	problem := models.NewProblemDetails(422, title, detail)
	h.setRequestIDHeader(c)
	c.JSON(422, problem)
}

// InternalError sends a 500 internal server error response
func (h *ResponseHelpers) InternalError(c *gin.Context, detail string) {
	problem := models.NewProblemDetails(500, "Internal Server Error", "An unexpected error occurred")
	h.setRequestIDHeader(c)

	// Log the error for debugging but don't expose internals
	requestID := getRequestID(c)
	log.Error().
		Str("request_id", requestID).
		Str("detail", detail).
		Msg("Internal server error")

	c.JSON(500, problem)
}

// LedgerError maps the ledger error taxonomy to HTTP responses
func (h *ResponseHelpers) LedgerError(c *gin.Context, err error) {
	handleLedgerError(c, err)
}

// Helper functions

func (h *ResponseHelpers) setRequestIDHeader(c *gin.Context) {
	if requestID := getRequestID(c); requestID != "" {
		c.Header("X-Request-ID", requestID)
	}
}

func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		return requestID.(string)
	}
	return ""
}

func handleValidationError(c *gin.Context, err error) {
	requestID := getRequestID(c)
	if requestID != "" {
		c.Header("X-Request-ID", requestID)
	}

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		// Handle multiple validation errors
		violations := make([]models.ValidationError, 0, len(validationErrors))
		for _, validationError := range validationErrors {
			violations = append(violations, models.ValidationError{
				Field:   strings.ToLower(validationError.Field()),
				Message: getValidationMessage(validationError),
				Code:    validationError.Tag(),
			})
		}

		problem := models.NewMultiValidationProblem(violations)
		c.JSON(400, problem)
		return
	}

	// Generic validation error
	problem := models.NewProblemDetails(400, "Bad Request", err.Error())
	c.JSON(400, problem)
}

// handleLedgerError maps sentinel ledger errors to their HTTP status codes.
// InsufficientStock is a 409: a normal business outcome, never a server
// fault. ReservationUnderflow is a 422: the request was well-formed but
// asks for something the ledger state cannot satisfy.
func handleLedgerError(c *gin.Context, err error) {
	requestID := getRequestID(c)
	if requestID != "" {
		c.Header("X-Request-ID", requestID)
	}

	switch {
	case errors.Is(err, models.ErrInvalidQuantity):
		problem := models.NewValidationProblem("qty", err.Error(), models.ErrorCodeInvalidQuantity)
		c.JSON(400, problem)
	case errors.Is(err, models.ErrProductNotFound):
		problem := models.NewNotFoundProblem("Stock record")
		c.JSON(404, problem)
	case errors.Is(err, models.ErrInsufficientStock):
		problem := models.NewBusinessLogicProblem(409, "Insufficient Stock", err.Error(), models.ErrorCodeInsufficientStock)
		c.JSON(409, problem)
	case errors.Is(err, models.ErrRecordExists):
		problem := models.NewBusinessLogicProblem(409, "Record Exists", err.Error(), models.ErrorCodeRecordExists)
		c.JSON(409, problem)
	case errors.Is(err, models.ErrReservationUnderflow):
		problem := models.NewBusinessLogicProblem(422, "Reservation Underflow", err.Error(), models.ErrorCodeReservationUnderflow)
		c.JSON(422, problem)
	case errors.Is(err, models.ErrBusy):
		c.Header("Retry-After", "1")
		problem := models.NewBusyProblem(err.Error())
		c.JSON(503, problem)
	default:
		var validationErr *models.ValidationError
		if errors.As(err, &validationErr) {
			problem := models.NewValidationProblem(validationErr.Field, validationErr.Message, models.ErrorCodeInvalidField)
			c.JSON(400, problem)
			return
		}

		problem := models.NewProblemDetails(500, "Internal Server Error", "An unexpected error occurred")
		log.Error().
			Str("request_id", requestID).
			Err(err).
			Msg("Unmapped ledger error")
		c.JSON(500, problem)
	}
}

func handleInternalError(c *gin.Context, err error) {
	requestID := getRequestID(c)
	if requestID != "" {
		c.Header("X-Request-ID", requestID)
	}

	problem := models.NewProblemDetails(500, "Internal Server Error", "An unexpected error occurred")

	log.Error().
		Str("request_id", requestID).
		Err(err).
		Msg("Internal server error")

	c.JSON(500, problem)
}

func getValidationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too small"
	case "max":
		return "Value is too large"
	default:
		return "Invalid value"
	}
}

// Create a global instance for easy access
var Response = &ResponseHelpers{}
