package receipts

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/playvault/playvault/internal/auth"
	"github.com/playvault/playvault/internal/orders"
)

// Handler provides HTTP endpoints for receipt operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new receipt handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up auth-required receipt routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/receipts/:id", h.Get)
	r.GET("/orders/:id/receipts", h.ListByOrder)
	r.POST("/receipts/verify", h.Verify)
}

// Get handles GET /v1/receipts/:id
func (h *Handler) Get(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	receipt, err := h.service.Get(c.Request.Context(), c.Param("id"), caller, auth.Role(c))
	if err != nil {
		respondReceiptError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"receipt": receipt})
}

// ListByOrder handles GET /v1/orders/:id/receipts
func (h *Handler) ListByOrder(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	receipts, err := h.service.ListByOrder(c.Request.Context(), c.Param("id"), caller, auth.Role(c))
	if err != nil {
		respondReceiptError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"receipts": receipts, "count": len(receipts)})
}

type verifyInput struct {
	ReceiptID string `json:"receiptId" binding:"required"`
}

// Verify handles POST /v1/receipts/verify
func (h *Handler) Verify(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	var req verifyInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	resp, err := h.service.Verify(c.Request.Context(), req.ReceiptID)
	if err != nil {
		respondReceiptError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": "Authentication required",
	})
}

func respondReceiptError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrReceiptNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, orders.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
