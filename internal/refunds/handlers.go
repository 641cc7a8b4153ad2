package refunds

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/playvault/playvault/internal/auth"
	"github.com/playvault/playvault/internal/orders"
)

// Handler provides HTTP endpoints for refund operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new refund handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up auth-required refund routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders/:id/refunds", h.Request)
	r.GET("/orders/:id/refunds", h.ListByOrder)
	r.GET("/refunds/:id", h.Get)
	r.POST("/refunds/:id/resolve", h.Resolve)
}

// Request handles POST /v1/orders/:id/refunds
func (h *Handler) Request(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	var req RequestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	refund, err := h.service.Request(c.Request.Context(), c.Param("id"), caller, req)
	if err != nil {
		respondRefundError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"refund": refund})
}

// ListByOrder handles GET /v1/orders/:id/refunds
func (h *Handler) ListByOrder(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	refunds, err := h.service.ListByOrder(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondRefundError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refunds": refunds, "count": len(refunds)})
}

// Get handles GET /v1/refunds/:id
func (h *Handler) Get(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	refund, err := h.service.Get(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondRefundError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund": refund})
}

// Resolve handles POST /v1/refunds/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	var req ResolveInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	refund, err := h.service.Resolve(c.Request.Context(), c.Param("id"), caller, req)
	if err != nil {
		respondRefundError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund": refund})
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": "Authentication required",
	})
}

func respondRefundError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRefundNotFound), errors.Is(err, orders.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, orders.ErrNotSeller), errors.Is(err, orders.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalidDecision):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	case errors.Is(err, ErrNotRefundable),
		errors.Is(err, ErrRefundPendingExists),
		errors.Is(err, ErrAmountExceedsTotal),
		errors.Is(err, ErrRefundNotPending),
		errors.Is(err, orders.ErrInvalidTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "domain_rule_violation",
			"message": err.Error(),
		})
	case errors.Is(err, ErrStaleRefund), errors.Is(err, orders.ErrStaleOrder):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "gateway_error",
			"message": err.Error(),
		})
	}
}
