package payments

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/playvault/playvault/internal/auth"
	"github.com/playvault/playvault/internal/orders"
)

// Handler provides HTTP endpoints for payment operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up auth-required payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders/:id/capture", h.Capture)
	r.GET("/orders/:id/transactions", h.ListByOrder)
	r.GET("/transactions/:id", h.Get)
}

type captureRequest struct {
	PaymentMethodRef string `json:"paymentMethodRef" binding:"required"`
}

// Capture handles POST /v1/orders/:id/capture
func (h *Handler) Capture(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	txn, err := h.service.Capture(c.Request.Context(), c.Param("id"), caller, req.PaymentMethodRef)
	if err != nil {
		respondPaymentError(c, txn, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// Get handles GET /v1/transactions/:id
func (h *Handler) Get(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	txn, err := h.service.Get(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondPaymentError(c, nil, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// ListByOrder handles GET /v1/orders/:id/transactions
func (h *Handler) ListByOrder(c *gin.Context) {
	caller := auth.Caller(c)
	if caller == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	list, err := h.service.ListByOrder(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondPaymentError(c, nil, err)
		return
	}
	if list == nil {
		list = []*Transaction{}
	}

	c.JSON(http.StatusOK, gin.H{"transactions": list, "count": len(list)})
}

func respondPaymentError(c *gin.Context, txn *Transaction, err error) {
	switch {
	case errors.Is(err, ErrPaymentDeclined):
		body := gin.H{
			"error":   "payment_declined",
			"message": err.Error(),
		}
		if txn != nil {
			body["transaction"] = txn
		}
		c.JSON(http.StatusPaymentRequired, body)
	case errors.Is(err, ErrInvalidMethod):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	case errors.Is(err, ErrOrderNotPayable), errors.Is(err, orders.ErrOrderExpired):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "domain_rule_violation",
			"message": err.Error(),
		})
	case errors.Is(err, orders.ErrNotBuyer), errors.Is(err, orders.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": err.Error(),
		})
	case errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, orders.ErrStaleOrder):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "gateway_error",
			"message": "Payment provider error",
		})
	}
}
