// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string

	// Identity
	JWTSecret string // HMAC secret for bearer tokens issued by the auth subsystem

	// Receipts
	ReceiptSecret string // HMAC secret for payment receipts (empty disables signing)

	// Payment gateway
	GatewayBackend  string // "simulated", "stripe", "bank_transfer"
	StripeSecretKey string

	// Fee policy (defaults vary by Env profile)
	PlatformFeeRate   string // e.g. "0.05"
	ProcessingFeeRate string // e.g. "0.029"
	MinimumFee        string // e.g. "0.30"
	MinTransaction    string
	MaxTransaction    string
	Currency          string

	// Custody timing
	OrderExpiry       time.Duration // unpaid orders expire after this
	EscrowAutoRelease time.Duration // delivered holds auto-release after this
	SweepInterval     time.Duration // background sweep cadence (0 disables)
	ReconcileInterval time.Duration // books check cadence (0 disables)

	RateLimitRPS int
}

// profile carries environment-specific defaults. Staging mirrors production
// fee rates with looser limits; development keeps limits tight so simulator
// runs stay readable.
type profile struct {
	platformRate   string
	processingRate string
	minimumFee     string
	minTransaction string
	maxTransaction string
	gateway        string
}

var profiles = map[string]profile{
	"development": {
		platformRate:   "0.05",
		processingRate: "0.029",
		minimumFee:     "0.30",
		minTransaction: "0.50",
		maxTransaction: "10000",
		gateway:        "simulated",
	},
	"staging": {
		platformRate:   "0.05",
		processingRate: "0.029",
		minimumFee:     "0.30",
		minTransaction: "0.50",
		maxTransaction: "50000",
		gateway:        "stripe",
	},
	"production": {
		platformRate:   "0.05",
		processingRate: "0.029",
		minimumFee:     "0.30",
		minTransaction: "1.00",
		maxTransaction: "100000",
		gateway:        "stripe",
	},
}

const (
	DefaultPort     = "8080"
	DefaultEnv      = "development"
	DefaultLogLevel = "info"
	DefaultCurrency = "USD"
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", DefaultEnv)
	p, ok := profiles[env]
	if !ok {
		return nil, fmt.Errorf("unknown ENV %q (want development, staging, or production)", env)
	}

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               env,
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		ReceiptSecret:     os.Getenv("RECEIPT_SECRET"),
		GatewayBackend:    getEnv("GATEWAY_BACKEND", p.gateway),
		StripeSecretKey:   os.Getenv("STRIPE_SECRET_KEY"),
		PlatformFeeRate:   getEnv("PLATFORM_FEE_RATE", p.platformRate),
		ProcessingFeeRate: getEnv("PROCESSING_FEE_RATE", p.processingRate),
		MinimumFee:        getEnv("MINIMUM_FEE", p.minimumFee),
		MinTransaction:    getEnv("MIN_TRANSACTION", p.minTransaction),
		MaxTransaction:    getEnv("MAX_TRANSACTION", p.maxTransaction),
		Currency:          getEnv("CURRENCY", DefaultCurrency),
		OrderExpiry:       getEnvDuration("ORDER_EXPIRY", 24*time.Hour),
		EscrowAutoRelease: getEnvDuration("ESCROW_AUTO_RELEASE", 72*time.Hour),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", time.Minute),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
		RateLimitRPS:      int(getEnvInt64("RATE_LIMIT_RPS", 100)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required outside development")
	}
	if c.OrderExpiry <= 0 {
		return fmt.Errorf("ORDER_EXPIRY must be positive")
	}
	if c.EscrowAutoRelease <= 0 {
		return fmt.Errorf("ESCROW_AUTO_RELEASE must be positive")
	}
	switch c.GatewayBackend {
	case "simulated", "stripe", "bank_transfer":
	default:
		return fmt.Errorf("unknown GATEWAY_BACKEND %q", c.GatewayBackend)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
