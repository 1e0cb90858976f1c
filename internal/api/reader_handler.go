package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"stockledger/internal/models"
)

// ReaderHandler handles HTTP requests for the read-side service
type ReaderHandler struct {
	readerService ReaderServiceInterface
}

// ReaderServiceInterface defines the interface for reader service operations
type ReaderServiceInterface interface {
	GetLevel(ctx context.Context, productID string) (*models.LevelResponse, error)
}

// NewReaderHandler creates a new reader API handler
func NewReaderHandler(readerService ReaderServiceInterface) *ReaderHandler {
	return &ReaderHandler{
		readerService: readerService,
	}
}

// SetupReaderRoutes sets up the HTTP routes for the reader service
func (h *ReaderHandler) SetupReaderRoutes() *gin.Engine {
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
		api.GET("/stock/:product_id/level", h.getLevel)
	}

	return r
}

// getLevel handles cache-first stock level requests
func (h *ReaderHandler) getLevel(c *gin.Context) {
	productID := c.Param("product_id")
	if productID == "" {
		Response.ValidationError(c, "product_id", "Product ID is required")
		return
	}

	level, err := h.readerService.GetLevel(c.Request.Context(), productID)
	if err != nil {
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to get stock level")

		if errors.Is(err, models.ErrProductNotFound) {
			Response.NotFound(c, "Stock record for product "+productID)
			return
		}

		Response.InternalError(c, err.Error())
		return
	}

	Response.Success(c, level)
}

// healthCheck handles health check requests
func (h *ReaderHandler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "stock-ledger-reader",
	})
}

// corsMiddleware handles CORS headers
func (h *ReaderHandler) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
