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
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Risk policy
	BlockThreshold int // score above this blocks the login
	MFAThreshold   int // score above this triggers MFA
	BaseRiskMin    int
	BaseRiskMax    int

	// Escalation
	MaxRounds         int           // collect+evaluate round budget
	CapabilityTimeout time.Duration // per capability call
	CollectorURL      string        // factor collection service (empty = in-process demo)
	EvaluatorURL      string        // risk evaluation service (empty = in-process demo)
	CapabilityAPIKey  string

	// Security
	APIKey       string // static service-to-service key (empty disables auth)
	RateLimitRPM int

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (empty disables tracing)
}

// Defaults.
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultBlockThreshold = 85
	DefaultMFAThreshold   = 60
	DefaultBaseRiskMin    = 10
	DefaultBaseRiskMax    = 80
	DefaultMaxRounds      = 3
	DefaultRateLimit      = 120
)

// DefaultCapabilityTimeout bounds each collector/evaluator call.
const DefaultCapabilityTimeout = 10 * time.Second

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		BlockThreshold:    getEnvInt("BLOCK_THRESHOLD", DefaultBlockThreshold),
		MFAThreshold:      getEnvInt("MFA_THRESHOLD", DefaultMFAThreshold),
		BaseRiskMin:       getEnvInt("BASE_RISK_MIN", DefaultBaseRiskMin),
		BaseRiskMax:       getEnvInt("BASE_RISK_MAX", DefaultBaseRiskMax),
		MaxRounds:         getEnvInt("MAX_ROUNDS", DefaultMaxRounds),
		CapabilityTimeout: getEnvDuration("CAPABILITY_TIMEOUT", DefaultCapabilityTimeout),
		CollectorURL:      os.Getenv("COLLECTOR_URL"),
		EvaluatorURL:      os.Getenv("EVALUATOR_URL"),
		CapabilityAPIKey:  os.Getenv("CAPABILITY_API_KEY"),
		APIKey:            os.Getenv("API_KEY"),
		RateLimitRPM:      getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	if c.BlockThreshold <= c.MFAThreshold {
		return fmt.Errorf("BLOCK_THRESHOLD (%d) must be above MFA_THRESHOLD (%d)", c.BlockThreshold, c.MFAThreshold)
	}
	if c.BaseRiskMin < 0 || c.BaseRiskMax > 100 || c.BaseRiskMin > c.BaseRiskMax {
		return fmt.Errorf("base risk range [%d,%d] must sit inside [0,100]", c.BaseRiskMin, c.BaseRiskMax)
	}
	if c.MaxRounds <= 0 {
		return fmt.Errorf("MAX_ROUNDS must be positive, got %d", c.MaxRounds)
	}
	// Both capability URLs or neither: a half-configured provider would mix
	// the demo collector with a real evaluator.
	if (c.CollectorURL == "") != (c.EvaluatorURL == "") {
		return fmt.Errorf("COLLECTOR_URL and EVALUATOR_URL must be set together")
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

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
