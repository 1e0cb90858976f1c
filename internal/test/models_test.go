package test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"stockledger/internal/models"
)

func TestErrorTaxonomy_Codes(t *testing.T) {
	cases := map[error]models.ErrorCode{
		models.ErrProductNotFound:      models.ErrorCodeProductNotFound,
		models.ErrInvalidQuantity:      models.ErrorCodeInvalidQuantity,
		models.ErrInsufficientStock:    models.ErrorCodeInsufficientStock,
		models.ErrReservationUnderflow: models.ErrorCodeReservationUnderflow,
		models.ErrBusy:                 models.ErrorCodeBusy,
		models.ErrRecordExists:         models.ErrorCodeRecordExists,
	}

	for err, code := range cases {
		assert.Equal(t, code, models.CodeForError(err))
	}

	// Wrapped errors resolve to the same code
	wrapped := fmt.Errorf("reserve p1: %w", models.ErrInsufficientStock)
	assert.Equal(t, models.ErrorCodeInsufficientStock, models.CodeForError(wrapped))

	assert.Equal(t, models.ErrorCodeInternalError, models.CodeForError(assert.AnError))
}

func TestErrorTaxonomy_OnlyBusyIsRetryable(t *testing.T) {
	assert.True(t, models.IsRetryable(models.ErrBusy))
	assert.True(t, models.IsRetryable(fmt.Errorf("restock p1: %w", models.ErrBusy)))

	assert.False(t, models.IsRetryable(models.ErrInsufficientStock))
	assert.False(t, models.IsRetryable(models.ErrReservationUnderflow))
	assert.False(t, models.IsRetryable(models.ErrProductNotFound))
	assert.False(t, models.IsRetryable(models.ErrInvalidQuantity))
	assert.False(t, models.IsRetryable(nil))
}

func TestProblemDetails_Busy(t *testing.T) {
	problem := models.NewBusyProblem("record busy, retry later")

	assert.Equal(t, models.ProblemTypeBusy, problem.Type)
	assert.Equal(t, 503, problem.Status)
	assert.Equal(t, string(models.ErrorCodeBusy), problem.Code)
}

func TestProblemDetails_Validation(t *testing.T) {
	problem := models.NewValidationProblem("qty", "quantity must be positive", models.ErrorCodeInvalidQuantity)

	assert.Equal(t, models.ProblemTypeValidationError, problem.Type)
	assert.Equal(t, 400, problem.Status)
	assert.Equal(t, "qty", problem.Field)

	multi := models.NewMultiValidationProblem([]models.ValidationError{
		{Field: "qty", Message: "This field is required"},
		{Field: "order_id", Message: "This field is required"},
	})
	assert.Equal(t, 400, multi.Status)
	assert.NotNil(t, multi.Errors)
}

func TestProblemDetails_StatusTypeMapping(t *testing.T) {
	assert.Equal(t, models.ProblemTypeValidationError, models.NewProblemDetails(400, "x", "y").Type)
	assert.Equal(t, models.ProblemTypeNotFound, models.NewProblemDetails(404, "x", "y").Type)
	assert.Equal(t, models.ProblemTypeBusinessError, models.NewProblemDetails(409, "x", "y").Type)
	assert.Equal(t, models.ProblemTypeBusinessError, models.NewProblemDetails(422, "x", "y").Type)
	assert.Equal(t, models.ProblemTypeBusy, models.NewProblemDetails(503, "x", "y").Type)
	assert.Equal(t, models.ProblemTypeInternalError, models.NewProblemDetails(500, "x", "y").Type)
}

func TestValidationError_Message(t *testing.T) {
	err := &models.ValidationError{Field: "qty", Message: "quantity must be positive"}
	assert.Equal(t, "validation error for field 'qty': quantity must be positive", err.Error())
}

func TestNewStockResponse(t *testing.T) {
	restocked := time.Now().Add(-time.Hour)
	rec := &models.StockRecord{
		ProductID:     "p1",
		StockQty:      8,
		ReservedQty:   2,
		LastRestocked: &restocked,
		Version:       7,
		UpdatedAt:     time.Now(),
	}

	resp := models.NewStockResponse(rec, "Stock reserved")
	assert.Equal(t, "p1", resp.ProductID)
	assert.Equal(t, 8, resp.StockQty)
	assert.Equal(t, 2, resp.ReservedQty)
	assert.Equal(t, int64(7), resp.Version)
	assert.Equal(t, &restocked, resp.LastRestocked)
	assert.Equal(t, "Stock reserved", resp.Message)
}

func TestStateFromRecord(t *testing.T) {
	now := time.Now()
	rec := &models.StockRecord{
		ProductID:   "p1",
		StockQty:    5,
		ReservedQty: 5,
		Version:     3,
		UpdatedAt:   now,
	}

	state := models.StateFromRecord(rec)
	assert.Equal(t, "p1", state.ProductID)
	assert.Equal(t, 5, state.StockQty)
	assert.Equal(t, 5, state.ReservedQty)
	assert.Equal(t, int64(3), state.Version)
	assert.Equal(t, now, state.UpdatedAt)
}
