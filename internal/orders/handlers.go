package orders

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/playvault/playvault/internal/auth"
	"github.com/playvault/playvault/internal/fees"
	"github.com/playvault/playvault/internal/listings"
)

// Handler provides HTTP endpoints for order operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up auth-required order routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.Create)
	r.GET("/orders", h.List)
	r.GET("/orders/:id", h.Get)
	r.POST("/orders/:id/cancel", h.Cancel)
	r.POST("/orders/:id/ship", h.MarkShipped)
	r.POST("/orders/:id/deliver", h.MarkDelivered)
}

// Create handles POST /v1/orders
func (h *Handler) Create(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	order, err := h.service.Create(c.Request.Context(), caller, req)
	if err != nil {
		respondOrderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order": order})
}

// Get handles GET /v1/orders/:id
func (h *Handler) Get(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	order, err := h.service.Get(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// List handles GET /v1/orders
func (h *Handler) List(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	list, err := h.service.ListByUser(c.Request.Context(), caller, limit)
	if err != nil {
		respondOrderError(c, err)
		return
	}
	if list == nil {
		list = []*Order{}
	}

	c.JSON(http.StatusOK, gin.H{"orders": list, "count": len(list)})
}

type noteRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

// Cancel handles POST /v1/orders/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	var req noteRequest
	_ = c.ShouldBindJSON(&req)

	order, err := h.service.Cancel(c.Request.Context(), c.Param("id"), caller, req.Reason)
	if err != nil {
		respondOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// MarkShipped handles POST /v1/orders/:id/ship
func (h *Handler) MarkShipped(c *gin.Context) {
	h.delivery(c, h.service.MarkShipped)
}

// MarkDelivered handles POST /v1/orders/:id/deliver
func (h *Handler) MarkDelivered(c *gin.Context) {
	h.delivery(c, h.service.MarkDelivered)
}

func (h *Handler) delivery(c *gin.Context, op func(ctx context.Context, id, caller, notes string) (*Order, error)) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	var req noteRequest
	_ = c.ShouldBindJSON(&req)

	order, err := op(c.Request.Context(), c.Param("id"), caller, req.Notes)
	if err != nil {
		respondOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": "Authentication required",
	})
}

// respondOrderError maps service errors onto the HTTP error taxonomy.
func respondOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, listings.ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, ErrSelfPurchase),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrListingUnavailable),
		errors.Is(err, ErrOrderFunded),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrOrderExpired):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "domain_rule_violation",
			"message": err.Error(),
		})
	case errors.Is(err, ErrNotBuyer), errors.Is(err, ErrNotSeller), errors.Is(err, ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": err.Error(),
		})
	case errors.Is(err, ErrStaleOrder):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": err.Error(),
		})
	case errors.Is(err, fees.ErrAmountOutOfRange), errors.Is(err, fees.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An internal error occurred",
		})
	}
}
