// Package admin provides the mediator-only operations surface: audit trail
// queries, buyer risk history, on-demand reconciliation, and manual sweeps.
package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/playvault/playvault/internal/audit"
	"github.com/playvault/playvault/internal/auth"
	"github.com/playvault/playvault/internal/pagination"
	"github.com/playvault/playvault/internal/reconciliation"
	"github.com/playvault/playvault/internal/risk"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
	sweepBatch        = 100
)

// OrderSweeper cancels expired unpaid orders.
type OrderSweeper interface {
	ExpireSweep(ctx context.Context, now time.Time, limit int) (int, error)
}

// EscrowSweeper releases delivered holds past their auto-release deadline.
type EscrowSweeper interface {
	AutoReleaseSweep(ctx context.Context, now time.Time, limit int) (int, error)
}

// Handler provides admin HTTP endpoints.
type Handler struct {
	auditor    audit.Logger
	risks      risk.Store
	reconciler *reconciliation.Service
	orders     OrderSweeper
	escrows    EscrowSweeper
}

// NewHandler creates an admin handler.
func NewHandler(auditor audit.Logger, risks risk.Store, reconciler *reconciliation.Service, orders OrderSweeper, escrows EscrowSweeper) *Handler {
	return &Handler{
		auditor:    auditor,
		risks:      risks,
		reconciler: reconciler,
		orders:     orders,
		escrows:    escrows,
	}
}

// RegisterRoutes sets up admin routes. Every route requires the mediator role.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/admin", requireMediator())
	g.GET("/audit", h.QueryAudit)
	g.GET("/risk/:buyerId", h.ListRisk)
	g.POST("/reconcile", h.Reconcile)
	g.POST("/sweep", h.Sweep)
}

// requireMediator rejects callers whose token lacks the mediator role.
func requireMediator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth.Role(c) != auth.RoleMediator {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "mediator role required",
			})
			return
		}
		c.Next()
	}
}

// QueryAudit handles GET /v1/admin/audit?resource=&resourceId=&cursor=&limit=
func (h *Handler) QueryAudit(c *gin.Context) {
	resource := c.Query("resource")
	if resource == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "resource query parameter is required",
		})
		return
	}

	limit := defaultAuditLimit
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = min(v, maxAuditLimit)
	}

	to := time.Now()
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "invalid cursor",
		})
		return
	}
	if cursor != nil {
		// Query treats the bound as inclusive; step past the page boundary.
		to = cursor.CreatedAt.Add(-time.Microsecond)
	}

	entries, err := h.auditor.Query(c.Request.Context(), resource, c.Query("resourceId"), time.Time{}, to, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "audit query failed",
		})
		return
	}

	page, next, hasMore := pagination.ComputePage(entries, limit, func(e *audit.Entry) (time.Time, string) {
		return e.CreatedAt, strconv.FormatInt(e.ID, 10)
	})
	c.JSON(http.StatusOK, gin.H{
		"entries":    page,
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// ListRisk handles GET /v1/admin/risk/:buyerId
func (h *Handler) ListRisk(c *gin.Context) {
	limit := defaultAuditLimit
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = min(v, maxAuditLimit)
	}

	assessments, err := h.risks.ListByBuyer(c.Request.Context(), c.Param("buyerId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "risk lookup failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessments": assessments})
}

// Reconcile handles POST /v1/admin/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	res, err := h.reconciler.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "reconciliation failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reconciliation": res})
}

// Sweep handles POST /v1/admin/sweep
func (h *Handler) Sweep(c *gin.Context) {
	ctx := c.Request.Context()
	now := time.Now()

	expired, err := h.orders.ExpireSweep(ctx, now, sweepBatch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "order sweep failed",
		})
		return
	}
	released, err := h.escrows.AutoReleaseSweep(ctx, now, sweepBatch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "escrow sweep failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"expiredOrders": expired,
		"releasedHolds": released,
	})
}
