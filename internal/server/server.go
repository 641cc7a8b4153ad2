// Package server wires the custody engine together: storage selection,
// middleware, routes, background sweeps and graceful shutdown.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"golang.org/x/sync/errgroup"

	"github.com/playvault/playvault/internal/audit"
	"github.com/playvault/playvault/internal/config"
	"github.com/playvault/playvault/internal/disputes"
	"github.com/playvault/playvault/internal/escrow"
	"github.com/playvault/playvault/internal/fees"
	"github.com/playvault/playvault/internal/gateway"
	"github.com/playvault/playvault/internal/health"
	"github.com/playvault/playvault/internal/listings"
	"github.com/playvault/playvault/internal/logging"
	"github.com/playvault/playvault/internal/metrics"
	"github.com/playvault/playvault/internal/notify"
	"github.com/playvault/playvault/internal/orders"
	"github.com/playvault/playvault/internal/payments"
	"github.com/playvault/playvault/internal/ratelimit"
	"github.com/playvault/playvault/internal/receipts"
	"github.com/playvault/playvault/internal/reconciliation"
	"github.com/playvault/playvault/internal/refunds"
	"github.com/playvault/playvault/internal/risk"
	"github.com/playvault/playvault/internal/security"
	"github.com/playvault/playvault/internal/syncutil"
	"github.com/playvault/playvault/internal/traces"
	"github.com/playvault/playvault/internal/validation"
)

// sweepBatch bounds how many orders or holds one sweep pass touches.
const sweepBatch = 100

// Server wraps the HTTP server and the engine's services.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db      *sql.DB // nil when using in-memory stores
	gateway gateway.Gateway
	policy  *fees.Policy
	emitter *notify.Emitter
	auditor audit.Logger

	listingStore listings.Store
	orderService *orders.Service
	payService   *payments.Service
	escrowSvc    *escrow.Service
	refundSvc    *refunds.Service
	receiptSvc   *receipts.Service
	disputeSvc   *disputes.Service
	notifyStore  notify.Store
	riskStore    risk.Store
	riskEngine   *risk.Engine
	reconcileSvc *reconciliation.Service

	rateLimiter *ratelimit.Limiter
	checks      *health.Registry
	router      *gin.Engine
	httpSrv     *http.Server

	traceShutdown func(context.Context) error
	cancelRunCtx  context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithGateway sets a custom payment backend (for testing).
func WithGateway(g gateway.Gateway) Option {
	return func(s *Server) { s.gateway = g }
}

// New creates a server instance with all services wired.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		checks: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("tracing disabled", "error", err)
		} else {
			s.traceShutdown = shutdown
		}
	}

	policy, err := fees.New(cfg.PlatformFeeRate, cfg.ProcessingFeeRate, cfg.MinimumFee,
		cfg.MinTransaction, cfg.MaxTransaction, cfg.Currency)
	if err != nil {
		return nil, fmt.Errorf("fee policy: %w", err)
	}
	s.policy = policy

	if s.gateway == nil {
		s.gateway = gateway.Instrument(gateway.NewFromConfig(gateway.Config{
			Backend:         cfg.GatewayBackend,
			StripeSecretKey: cfg.StripeSecretKey,
		}, gateway.NewFallbackPolicy(s.logger), s.logger))
	}

	if err := s.setupStores(ctx); err != nil {
		return nil, err
	}
	s.setupServices()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// setupStores picks Postgres when DATABASE_URL is set, in-memory otherwise.
func (s *Server) setupStores(ctx context.Context) error {
	if s.cfg.DatabaseURL == "" {
		s.logger.Info("using in-memory storage (data will not persist)")
		s.auditor = audit.NewMemoryLogger()
		s.notifyStore = notify.NewMemoryStore()
		s.listingStore = listings.NewMemoryStore()
		s.riskStore = risk.NewMemoryStore()
		s.riskEngine = risk.NewEngine(s.riskStore)
		s.emitter = notify.NewEmitter(s.notifyStore, s.logger)
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	s.db = db
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))

	s.auditor = audit.NewPostgresLogger(db)
	s.notifyStore = notify.NewPostgresStore(db)
	s.listingStore = listings.NewPostgresStore(db)
	s.riskStore = risk.NewPostgresStore(db)
	s.riskEngine = risk.NewEngine(s.riskStore)
	s.emitter = notify.NewEmitter(s.notifyStore, s.logger)

	s.checks.Register("database", func(ctx context.Context) health.Status {
		if err := db.PingContext(ctx); err != nil {
			return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "database", Healthy: true}
	})
	return nil
}

func (s *Server) setupServices() {
	locks := syncutil.NewKeyedMutex()

	var (
		orderStore   orders.Store
		payStore     payments.Store
		holdStore    escrow.Store
		refundStore  refunds.Store
		disputeStore disputes.Store
		receiptStore receipts.Store
	)
	if s.db != nil {
		orderStore = orders.NewPostgresStore(s.db)
		payStore = payments.NewPostgresStore(s.db)
		holdStore = escrow.NewPostgresStore(s.db)
		refundStore = refunds.NewPostgresStore(s.db)
		disputeStore = disputes.NewPostgresStore(s.db)
		receiptStore = receipts.NewPostgresStore(s.db)
	} else {
		orderStore = orders.NewMemoryStore()
		payStore = payments.NewMemoryStore()
		holdStore = escrow.NewMemoryStore()
		refundStore = refunds.NewMemoryStore()
		disputeStore = disputes.NewMemoryStore()
		receiptStore = receipts.NewMemoryStore()
	}

	s.orderService = orders.NewService(orderStore, s.listingStore, s.policy, locks, s.emitter, s.auditor).
		WithExpiry(s.cfg.OrderExpiry)
	s.escrowSvc = escrow.NewService(holdStore, s.orderService, payStore, s.gateway, s.emitter, s.auditor).
		WithAutoRelease(s.cfg.EscrowAutoRelease)

	maxAmount, err := strconv.ParseFloat(s.cfg.MaxTransaction, 64)
	if err != nil {
		maxAmount = 10000
	}
	s.receiptSvc = receipts.NewService(receiptStore, receipts.NewSigner(s.cfg.ReceiptSecret))
	if !s.receiptSvc.Enabled() {
		s.logger.Info("receipt signing disabled (no RECEIPT_SECRET)")
	}

	s.payService = payments.NewService(payStore, s.orderService, s.gateway, s.escrowSvc,
		s.riskEngine, s.emitter, s.auditor, maxAmount).
		WithReceipts(s.receiptSvc)
	s.refundSvc = refunds.NewService(refundStore, s.orderService, payStore, holdStore,
		s.gateway, s.listingStore, s.emitter, s.auditor).
		WithReceipts(s.receiptSvc)
	s.disputeSvc = disputes.NewService(disputeStore, s.orderService, s.escrowSvc, holdStore,
		s.riskEngine, s.emitter, s.auditor)
	s.reconcileSvc = reconciliation.NewService(holdStore, payStore)
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	limitCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limitCfg.RequestsPerMinute = s.cfg.RateLimitRPS
	}
	s.rateLimiter = ratelimit.New(limitCfg)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "req_unknown"
	}
	return "req_" + hex.EncodeToString(b)
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// Run starts the HTTP server and the background sweeps, blocking until a
// shutdown signal or a fatal error.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"gateway", s.gateway.Name(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if s.cfg.SweepInterval > 0 {
		g.Go(func() error {
			s.runSweeper(gCtx)
			return nil
		})
	}

	if s.cfg.ReconcileInterval > 0 {
		timer := reconciliation.NewTimer(s.reconcileSvc, s.cfg.ReconcileInterval, s.logger)
		g.Go(func() error {
			timer.Start(gCtx)
			return nil
		})
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() { errChan <- g.Wait() }()

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// runSweeper expires unpaid orders and auto-releases delivered holds on the
// configured cadence.
func (s *Server) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.cfg.SweepInterval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case now := <-ticker.C:
			expired, err := s.orderService.ExpireSweep(ctx, now, sweepBatch)
			if err != nil {
				s.logger.Error("order expiry sweep", "error", err)
			} else if expired > 0 {
				s.logger.Info("expired unpaid orders", "count", expired)
			}

			released, err := s.escrowSvc.AutoReleaseSweep(ctx, now, sweepBatch)
			if err != nil {
				s.logger.Error("escrow auto-release sweep", "error", err)
			} else if released > 0 {
				s.logger.Info("auto-released escrows", "count", released)
			}
		}
	}
}

// Shutdown gracefully stops the server and its background work.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("trace exporter shutdown", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
