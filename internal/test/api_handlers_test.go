package test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"stockledger/internal/api"
	"stockledger/internal/models"
)

// MockLedgerService implements the ledger service interface for handler testing
type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) Reserve(ctx context.Context, productID string, req *models.ReserveRequest) (*models.StockResponse, error) {
	args := m.Called(ctx, productID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StockResponse), args.Error(1)
}

func (m *MockLedgerService) Commit(ctx context.Context, productID string, req *models.CommitRequest) (*models.StockResponse, error) {
	args := m.Called(ctx, productID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StockResponse), args.Error(1)
}

func (m *MockLedgerService) Release(ctx context.Context, productID string, req *models.ReleaseRequest) (*models.StockResponse, error) {
	args := m.Called(ctx, productID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StockResponse), args.Error(1)
}

func (m *MockLedgerService) Restock(ctx context.Context, productID string, qty int, ts time.Time) (*models.StockResponse, error) {
	args := m.Called(ctx, productID, qty, ts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StockResponse), args.Error(1)
}

func (m *MockLedgerService) CreateRecord(ctx context.Context, productID string) (*models.StockResponse, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StockResponse), args.Error(1)
}

func (m *MockLedgerService) DropRecord(ctx context.Context, productID string) error {
	args := m.Called(ctx, productID)
	return args.Error(0)
}

func (m *MockLedgerService) GetLevel(ctx context.Context, productID string) (*models.LevelResponse, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LevelResponse), args.Error(1)
}

func performRequest(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestLedgerHandler_ReserveSuccess(t *testing.T) {
	mockService := new(MockLedgerService)
	router := api.NewLedgerHandler(mockService).SetupLedgerRoutes()

	mockService.On("Reserve", mock.Anything, "p1", &models.ReserveRequest{Qty: 3, OrderID: "order-1"}).
		Return(&models.StockResponse{ProductID: "p1", StockQty: 7, ReservedQty: 3, Version: 2, Message: "Stock reserved"}, nil)

	w := performRequest(t, router, "POST", "/api/v1/stock/p1/reserve", gin.H{"qty": 3, "order_id": "order-1"})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.StockResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "p1", resp.ProductID)
	assert.Equal(t, 7, resp.StockQty)
	assert.Equal(t, 3, resp.ReservedQty)

	mockService.AssertExpectations(t)
}

func TestLedgerHandler_ReserveInsufficientStock(t *testing.T) {
	mockService := new(MockLedgerService)
	router := api.NewLedgerHandler(mockService).SetupLedgerRoutes()

	mockService.On("Reserve", mock.Anything, "p1", mock.Anything).
		Return(nil, models.ErrInsufficientStock)

	w := performRequest(t, router, "POST", "/api/v1/stock/p1/reserve", gin.H{"qty": 50, "order_id": "order-1"})

	assert.Equal(t, http.StatusConflict, w.Code)

	var problem models.ProblemDetails
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, string(models.ErrorCodeInsufficientStock), problem.Code)
	assert.Equal(t, 409, problem.Status)
}

func TestLedgerHandler_ReserveBusy(t *testing.T) {
	mockService := new(MockLedgerService)
	router := api.NewLedgerHandler(mockService).SetupLedgerRoutes()

	mockService.On("Reserve", mock.Anything, "p1", mock.Anything).
		Return(nil, models.ErrBusy)

	w := performRequest(t, router, "POST", "/api/v1/stock/p1/reserve", gin.H{"qty": 1, "order_id": "order-1"})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	var problem models.ProblemDetails
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, string(models.ErrorCodeBusy), problem.Code)
}

func TestLedgerHandler_ReserveUnknownProduct(t *testing.T) {
	mockService := new(MockLedgerService)
	router := api.NewLedgerHandler(mockService).SetupLedgerRoutes()

	mockService.On("Reserve", mock.Anything, "ghost", mock.Anything).
		Return(nil, models.ErrProductNotFound)

	w := performRequest(t, router, "POST", "/api/v1/stock/ghost/reserve", gin.H{"qty": 1, "order_id": "order-1"})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLedgerHandler_ReserveMalformedBody(t *testing.T) {
	mockService := new(MockLedgerService)
	router := api.NewLedgerHandler(mockService).SetupLedgerRoutes()

	// Missing required order_id fails binding before the service is touched
	w := performRequest(t, router, "POST", "/api/v1/stock/p1/reserve", gin.H{"qty": 1})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockService.AssertNotCalled(t, "Reserve")
}

func TestLedgerHandler_CommitUnderflow(t *testing.T) {
	mockService := new(MockLedgerService)
	router := api.NewLedgerHandler(mockService).SetupLedgerRoutes()

	mockService.On("Commit", mock.Anything, "p1", mock.Anything).
		Return(nil, models.ErrReservationUnderflow)

	w := performRequest(t, router, "POST", "/api/v1/stock/p1/commit", gin.H{"qty": 9, "order_id": "order-1"})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var problem models.ProblemDetails
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, string(models.ErrorCodeReservationUnderflow), problem.Code)
}

func TestLedgerHandler_ReleaseSuccess(t *testing.T) {
	mockService := new(MockLedgerService)
	router := api.NewLedgerHandler(mockService).SetupLedgerRoutes()

	mockService.On("Release", mock.Anything, "p1", &models.ReleaseRequest{Qty: 2, OrderID: "order-1"}).
		Return(&models.StockResponse{ProductID: "p1", StockQty: 9, ReservedQty: 0, Version: 5}, nil)

	w := performRequest(t, router, "POST", "/api/v1/stock/p1/release", gin.H{"qty": 2, "order_id": "order-1"})

	assert.Equal(t, http.StatusOK, w.Code)
	mockService.AssertExpectations(t)
}

func TestLedgerHandler_Restock(t *testing.T) {
	mockService := new(MockLedgerService)
	router := api.NewLedgerHandler(mockService).SetupLedgerRoutes()

	ts := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	mockService.On("Restock", mock.Anything, "p1", 20, mock.MatchedBy(func(got time.Time) bool {
		return got.Equal(ts)
	})).Return(&models.StockResponse{ProductID: "p1", StockQty: 30, LastRestocked: &ts, Version: 3}, nil)

	w := performRequest(t, router, "POST", "/api/v1/stock/p1/restock", gin.H{"qty": 20, "timestamp": ts})

	assert.Equal(t, http.StatusOK, w.Code)
	mockService.AssertExpectations(t)
}

func TestLedgerHandler_CreateRecord(t *testing.T) {
	mockService := new(MockLedgerService)
	router := api.NewLedgerHandler(mockService).SetupLedgerRoutes()

	mockService.On("CreateRecord", mock.Anything, "p1").
		Return(&models.StockResponse{ProductID: "p1", Version: 1, Message: "Stock record created"}, nil)

	w := performRequest(t, router, "POST", "/api/v1/stock/p1", nil)

	assert.Equal(t, http.StatusCreated, w.Code)
	mockService.AssertExpectations(t)
}

func TestLedgerHandler_CreateRecordConflict(t *testing.T) {
	mockService := new(MockLedgerService)
	router := api.NewLedgerHandler(mockService).SetupLedgerRoutes()

	mockService.On("CreateRecord", mock.Anything, "p1").
		Return(nil, models.ErrRecordExists)

	w := performRequest(t, router, "POST", "/api/v1/stock/p1", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLedgerHandler_DropRecord(t *testing.T) {
	mockService := new(MockLedgerService)
	router := api.NewLedgerHandler(mockService).SetupLedgerRoutes()

	mockService.On("DropRecord", mock.Anything, "p1").Return(nil)

	w := performRequest(t, router, "DELETE", "/api/v1/stock/p1", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	mockService.AssertExpectations(t)
}

func TestLedgerHandler_GetLevel(t *testing.T) {
	mockService := new(MockLedgerService)
	router := api.NewLedgerHandler(mockService).SetupLedgerRoutes()

	now := time.Now()
	mockService.On("GetLevel", mock.Anything, "p1").
		Return(&models.LevelResponse{ProductID: "p1", StockQty: 4, ReservedQty: 6, LastUpdated: now}, nil)

	w := performRequest(t, router, "GET", "/api/v1/stock/p1", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var level models.LevelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &level))
	assert.Equal(t, 4, level.StockQty)
	assert.Equal(t, 6, level.ReservedQty)
	assert.False(t, level.CacheHit)
}

func TestLedgerHandler_RequestIDPropagated(t *testing.T) {
	mockService := new(MockLedgerService)
	router := api.NewLedgerHandler(mockService).SetupLedgerRoutes()

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestLedgerHandler_Health(t *testing.T) {
	mockService := new(MockLedgerService)
	router := api.NewLedgerHandler(mockService).SetupLedgerRoutes()

	w := performRequest(t, router, "GET", "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
