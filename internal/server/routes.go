package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/playvault/playvault/internal/admin"
	"github.com/playvault/playvault/internal/auth"
	"github.com/playvault/playvault/internal/disputes"
	"github.com/playvault/playvault/internal/escrow"
	"github.com/playvault/playvault/internal/metrics"
	"github.com/playvault/playvault/internal/notify"
	"github.com/playvault/playvault/internal/orders"
	"github.com/playvault/playvault/internal/payments"
	"github.com/playvault/playvault/internal/receipts"
	"github.com/playvault/playvault/internal/refunds"
)

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/api", s.infoHandler)

	verifier := auth.NewVerifier(s.cfg.JWTSecret)
	if s.cfg.IsDevelopment() {
		verifier = verifier.WithDevFallback("user_dev")
	}

	v1 := s.router.Group("/v1")
	v1.Use(verifier.Middleware())

	orders.NewHandler(s.orderService).RegisterRoutes(v1)
	payments.NewHandler(s.payService).RegisterRoutes(v1)
	escrow.NewHandler(s.escrowSvc).RegisterRoutes(v1)
	refunds.NewHandler(s.refundSvc).RegisterRoutes(v1)
	receipts.NewHandler(s.receiptSvc).RegisterRoutes(v1)
	disputes.NewHandler(s.disputeSvc).RegisterRoutes(v1)
	notify.NewHandler(s.notifyStore).RegisterRoutes(v1)
	admin.NewHandler(s.auditor, s.riskStore, s.reconcileSvc, s.orderService, s.escrowSvc).RegisterRoutes(v1)
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "playvault custody engine",
		"version":     "0.1.0",
		"description": "Order, payment, escrow, refund and dispute custody for playvault",
		"gateway":     s.gateway.Name(),
		"currency":    s.policy.Currency(),
	})
}
