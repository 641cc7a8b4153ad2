package disputes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/playvault/playvault/internal/auth"
	"github.com/playvault/playvault/internal/escrow"
	"github.com/playvault/playvault/internal/orders"
)

// Handler provides HTTP endpoints for dispute operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up auth-required dispute routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders/:id/disputes", h.Open)
	r.GET("/disputes", h.List)
	r.GET("/disputes/:id", h.Get)
	r.GET("/disputes/:id/messages", h.Messages)
	r.POST("/disputes/:id/messages", h.AddMessage)
	r.POST("/disputes/:id/escalate", h.Escalate)
	r.POST("/disputes/:id/resolve", h.Resolve)
}

// Open handles POST /v1/orders/:id/disputes
func (h *Handler) Open(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	var req OpenInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	dispute, err := h.service.Open(c.Request.Context(), c.Param("id"), caller, req)
	if err != nil {
		respondDisputeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"dispute": dispute})
}

// List handles GET /v1/disputes
func (h *Handler) List(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	disputes, err := h.service.ListByUser(c.Request.Context(), caller)
	if err != nil {
		respondDisputeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"disputes": disputes, "count": len(disputes)})
}

// Get handles GET /v1/disputes/:id
func (h *Handler) Get(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	dispute, err := h.service.Get(c.Request.Context(), c.Param("id"), caller, auth.Role(c))
	if err != nil {
		respondDisputeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": dispute})
}

// Messages handles GET /v1/disputes/:id/messages
func (h *Handler) Messages(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	messages, err := h.service.Messages(c.Request.Context(), c.Param("id"), caller, auth.Role(c))
	if err != nil {
		respondDisputeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}

// AddMessage handles POST /v1/disputes/:id/messages
func (h *Handler) AddMessage(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	var req MessageInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	msg, err := h.service.AddMessage(c.Request.Context(), c.Param("id"), caller, auth.Role(c), req)
	if err != nil {
		respondDisputeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// Escalate handles POST /v1/disputes/:id/escalate
func (h *Handler) Escalate(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		unauthorized(c)
		return
	}

	var req EscalateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	dispute, err := h.service.Escalate(c.Request.Context(), c.Param("id"), caller, req)
	if err != nil {
		respondDisputeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": dispute})
}

// Resolve handles POST /v1/disputes/:id/resolve
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

	dispute, err := h.service.Resolve(c.Request.Context(), c.Param("id"), caller, auth.Role(c), req)
	if err != nil {
		respondDisputeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": dispute})
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": "Authentication required",
	})
}

func respondDisputeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDisputeNotFound),
		errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, escrow.ErrHoldNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, orders.ErrNotParticipant),
		errors.Is(err, ErrNotMediator),
		errors.Is(err, ErrInternalOnly):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalidReason), errors.Is(err, ErrInvalidResolution):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	case errors.Is(err, ErrDisputeExists),
		errors.Is(err, ErrDisputeNotActive),
		errors.Is(err, ErrNoFundsHeld),
		errors.Is(err, orders.ErrInvalidTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "domain_rule_violation",
			"message": err.Error(),
		})
	case errors.Is(err, ErrStaleDispute),
		errors.Is(err, orders.ErrStaleOrder),
		errors.Is(err, escrow.ErrStaleHold):
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
