package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"stockledger/internal/interfaces"
	"stockledger/internal/models"
)

// LedgerHandler handles HTTP requests for ledger write operations
type LedgerHandler struct {
	ledgerService interfaces.LedgerService
}

// NewLedgerHandler creates a new ledger API handler
func NewLedgerHandler(ledgerService interfaces.LedgerService) *LedgerHandler {
	return &LedgerHandler{
		ledgerService: ledgerService,
	}
}

// SetupLedgerRoutes sets up the HTTP routes for the ledger service
func (h *LedgerHandler) SetupLedgerRoutes() *gin.Engine {
	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// Middleware
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(ErrorHandlerMiddleware())
	r.Use(h.corsMiddleware())

	// Health check
	r.GET("/health", h.healthCheck)

	api := r.Group("/api/v1")
	{
		// Record lifecycle
		api.POST("/stock/:product_id", h.createRecord)
		api.DELETE("/stock/:product_id", h.dropRecord)
		api.GET("/stock/:product_id", h.getLevel)

		// Ledger mutations
		api.POST("/stock/:product_id/reserve", h.reserveStock)
		api.POST("/stock/:product_id/commit", h.commitReservation)
		api.POST("/stock/:product_id/release", h.releaseReservation)
		api.POST("/stock/:product_id/restock", h.restockProduct)
	}

	return r
}

// reserveStock handles stock reservation requests
func (h *LedgerHandler) reserveStock(c *gin.Context) {
	productID := c.Param("product_id")
	if productID == "" {
		Response.ValidationError(c, "product_id", "Product ID is required")
		return
	}

	var req models.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Failed to bind reserve request")
		Response.ValidationError(c, "request", "Invalid request format")
		return
	}

	response, err := h.ledgerService.Reserve(c.Request.Context(), productID, &req)
	if err != nil {
		log.Error().Err(err).
			Str("product_id", productID).
			Str("order_id", req.OrderID).
			Msg("Failed to reserve stock")
		Response.LedgerError(c, err)
		return
	}

	Response.Success(c, response)
}

// commitReservation handles reservation commit requests
func (h *LedgerHandler) commitReservation(c *gin.Context) {
	productID := c.Param("product_id")
	if productID == "" {
		Response.ValidationError(c, "product_id", "Product ID is required")
		return
	}

	var req models.CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Failed to bind commit request")
		Response.ValidationError(c, "request", "Invalid request format")
		return
	}

	response, err := h.ledgerService.Commit(c.Request.Context(), productID, &req)
	if err != nil {
		log.Error().Err(err).
			Str("product_id", productID).
			Str("order_id", req.OrderID).
			Msg("Failed to commit reservation")
		Response.LedgerError(c, err)
		return
	}

	Response.Success(c, response)
}

// releaseReservation handles reservation release requests
func (h *LedgerHandler) releaseReservation(c *gin.Context) {
	productID := c.Param("product_id")
	if productID == "" {
		Response.ValidationError(c, "product_id", "Product ID is required")
		return
	}

	var req models.ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Failed to bind release request")
		Response.ValidationError(c, "request", "Invalid request format")
		return
	}

	response, err := h.ledgerService.Release(c.Request.Context(), productID, &req)
	if err != nil {
		log.Error().Err(err).
			Str("product_id", productID).
			Str("order_id", req.OrderID).
			Msg("Failed to release reservation")
		Response.LedgerError(c, err)
		return
	}

	Response.Success(c, response)
}

// restockProduct handles replenishment requests applied through the API
func (h *LedgerHandler) restockProduct(c *gin.Context) {
	productID := c.Param("product_id")
	if productID == "" {
		Response.ValidationError(c, "product_id", "Product ID is required")
		return
	}

	var req models.RestockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Failed to bind restock request")
		Response.ValidationError(c, "request", "Invalid request format")
		return
	}

	ts := time.Now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	response, err := h.ledgerService.Restock(c.Request.Context(), productID, req.Qty, ts)
	if err != nil {
		log.Error().Err(err).
			Str("product_id", productID).
			Int("qty", req.Qty).
			Msg("Failed to restock product")
		Response.LedgerError(c, err)
		return
	}

	Response.Success(c, response)
}

// createRecord handles stock record creation requests
func (h *LedgerHandler) createRecord(c *gin.Context) {
	productID := c.Param("product_id")
	if productID == "" {
		Response.ValidationError(c, "product_id", "Product ID is required")
		return
	}

	response, err := h.ledgerService.CreateRecord(c.Request.Context(), productID)
	if err != nil {
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to create stock record")
		Response.LedgerError(c, err)
		return
	}

	Response.Created(c, response)
}

// dropRecord handles stock record deletion requests
func (h *LedgerHandler) dropRecord(c *gin.Context) {
	productID := c.Param("product_id")
	if productID == "" {
		Response.ValidationError(c, "product_id", "Product ID is required")
		return
	}

	if err := h.ledgerService.DropRecord(c.Request.Context(), productID); err != nil {
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to drop stock record")
		Response.LedgerError(c, err)
		return
	}

	Response.NoContent(c)
}

// getLevel handles stock level requests against the authoritative ledger
func (h *LedgerHandler) getLevel(c *gin.Context) {
	productID := c.Param("product_id")
	if productID == "" {
		Response.ValidationError(c, "product_id", "Product ID is required")
		return
	}

	level, err := h.ledgerService.GetLevel(c.Request.Context(), productID)
	if err != nil {
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to get stock level")
		Response.LedgerError(c, err)
		return
	}

	Response.Success(c, level)
}

// healthCheck handles health check requests
func (h *LedgerHandler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "stock-ledger-service",
	})
}

// corsMiddleware handles CORS headers
func (h *LedgerHandler) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
