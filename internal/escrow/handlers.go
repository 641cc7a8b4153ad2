package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/playvault/playvault/internal/auth"
	"github.com/playvault/playvault/internal/orders"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up auth-required escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/escrows/:id", h.Get)
	r.GET("/orders/:id/escrow", h.GetByOrder)
	r.POST("/escrows/:id/release", h.Release)
	r.POST("/escrows/:id/dispute", h.Dispute)
}

// Get handles GET /v1/escrows/:id
func (h *Handler) Get(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	hold, err := h.service.Get(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": hold})
}

// GetByOrder handles GET /v1/orders/:id/escrow
func (h *Handler) GetByOrder(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	hold, err := h.service.GetByOrder(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": hold})
}

// Release handles POST /v1/escrows/:id/release
func (h *Handler) Release(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	var req ReleaseRequest
	_ = c.ShouldBindJSON(&req)

	hold, err := h.service.Release(c.Request.Context(), c.Param("id"), caller, req)
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": hold})
}

// Dispute handles POST /v1/escrows/:id/dispute
func (h *Handler) Dispute(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	hold, err := h.service.Dispute(c.Request.Context(), c.Param("id"), caller, req)
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": hold})
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": "Authentication required",
	})
}

func respondEscrowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrHoldNotFound), errors.Is(err, orders.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, orders.ErrNotBuyer), errors.Is(err, orders.ErrNotSeller), errors.Is(err, orders.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": err.Error(),
		})
	case errors.Is(err, ErrHoldNotActive),
		errors.Is(err, ErrPartialNotAllowed),
		errors.Is(err, ErrNotDelivered),
		errors.Is(err, ErrAmountExceedsHold),
		errors.Is(err, orders.ErrInvalidTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "domain_rule_violation",
			"message": err.Error(),
		})
	case errors.Is(err, ErrStaleHold), errors.Is(err, orders.ErrStaleOrder):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An internal error occurred",
		})
	}
}
