// Package config handles application configuration from environment variables
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// BankPolicy holds the per-bank knobs for risk adjudication.
// Thresholds partition the [0,1] score range into bands:
// score <= ThresholdLow is Low, score <= ThresholdHigh is Medium,
// anything above is High.
type BankPolicy struct {
	ThresholdLow    float64       `json:"threshold_low"`
	ThresholdHigh   float64       `json:"threshold_high"`
	OTPTTL          time.Duration `json:"otp_ttl"`
	ConfirmationTTL time.Duration `json:"confirmation_ttl"`
	BlockLimit      int           `json:"block_limit"`
}

// bankPolicyJSON is the wire form of BankPolicy in BANK_POLICIES,
// with durations as strings ("5m", "24h").
type bankPolicyJSON struct {
	ThresholdLow    *float64 `json:"threshold_low"`
	ThresholdHigh   *float64 `json:"threshold_high"`
	OTPTTL          string   `json:"otp_ttl"`
	ConfirmationTTL string   `json:"confirmation_ttl"`
	BlockLimit      *int     `json:"block_limit"`
}

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Scoring service
	ScoringURL     string // External risk-scoring endpoint (optional, local model if not set)
	ScoringTimeout time.Duration
	ModelVersion   string

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
	RateLimitRPM int

	// Timer sweep intervals
	OTPSweepInterval          time.Duration
	ConfirmationSweepInterval time.Duration

	// Adjudication policy
	DefaultPolicy BankPolicy
	BankPolicies  map[string]BankPolicy // per-bank overrides, keyed by bank ID
}

// Development defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultThresholdLow    = 0.35
	DefaultThresholdHigh   = 0.70
	DefaultOTPTTL          = 5 * time.Minute
	DefaultConfirmationTTL = 24 * time.Hour
	DefaultBlockLimit      = 2
	DefaultScoringTimeout  = 2 * time.Second
	DefaultModelVersion    = "local-v1"
	DefaultRateLimitRPM    = 600
	DefaultOTPSweep        = 15 * time.Second
	DefaultConfirmSweep    = 30 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:    os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ScoringURL:     os.Getenv("SCORING_URL"),  // Optional, local model if not set
		ScoringTimeout: getEnvDuration("SCORING_TIMEOUT", DefaultScoringTimeout),
		ModelVersion:   getEnv("MODEL_VERSION", DefaultModelVersion),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:   int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),

		OTPSweepInterval:          getEnvDuration("OTP_SWEEP_INTERVAL", DefaultOTPSweep),
		ConfirmationSweepInterval: getEnvDuration("CONFIRMATION_SWEEP_INTERVAL", DefaultConfirmSweep),

		DefaultPolicy: BankPolicy{
			ThresholdLow:    getEnvFloat("RISK_THRESHOLD_LOW", DefaultThresholdLow),
			ThresholdHigh:   getEnvFloat("RISK_THRESHOLD_HIGH", DefaultThresholdHigh),
			OTPTTL:          getEnvDuration("OTP_TTL", DefaultOTPTTL),
			ConfirmationTTL: getEnvDuration("CONFIRMATION_TTL", DefaultConfirmationTTL),
			BlockLimit:      int(getEnvInt64("BLOCK_LIMIT", DefaultBlockLimit)),
		},
	}

	if raw := os.Getenv("BANK_POLICIES"); raw != "" {
		policies, err := parseBankPolicies(raw, cfg.DefaultPolicy)
		if err != nil {
			return nil, fmt.Errorf("BANK_POLICIES: %w", err)
		}
		cfg.BankPolicies = policies
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseBankPolicies decodes the BANK_POLICIES JSON map. Fields omitted for a
// bank fall back to the default policy.
func parseBankPolicies(raw string, defaults BankPolicy) (map[string]BankPolicy, error) {
	var wire map[string]bankPolicyJSON
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	policies := make(map[string]BankPolicy, len(wire))
	for bankID, w := range wire {
		p := defaults
		if w.ThresholdLow != nil {
			p.ThresholdLow = *w.ThresholdLow
		}
		if w.ThresholdHigh != nil {
			p.ThresholdHigh = *w.ThresholdHigh
		}
		if w.OTPTTL != "" {
			d, err := time.ParseDuration(w.OTPTTL)
			if err != nil {
				return nil, fmt.Errorf("bank %q: otp_ttl: %w", bankID, err)
			}
			p.OTPTTL = d
		}
		if w.ConfirmationTTL != "" {
			d, err := time.ParseDuration(w.ConfirmationTTL)
			if err != nil {
				return nil, fmt.Errorf("bank %q: confirmation_ttl: %w", bankID, err)
			}
			p.ConfirmationTTL = d
		}
		if w.BlockLimit != nil {
			p.BlockLimit = *w.BlockLimit
		}
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("bank %q: %w", bankID, err)
		}
		policies[bankID] = p
	}
	return policies, nil
}

// PolicyFor returns the adjudication policy for a bank, falling back to the
// default policy when the bank has no override.
func (c *Config) PolicyFor(bankID string) BankPolicy {
	if p, ok := c.BankPolicies[bankID]; ok {
		return p
	}
	return c.DefaultPolicy
}

func (p BankPolicy) validate() error {
	if p.ThresholdLow < 0 || p.ThresholdHigh > 1 {
		return fmt.Errorf("thresholds must lie within [0, 1]")
	}
	if p.ThresholdLow >= p.ThresholdHigh {
		return fmt.Errorf("threshold_low (%.3f) must be below threshold_high (%.3f)", p.ThresholdLow, p.ThresholdHigh)
	}
	if p.OTPTTL <= 0 {
		return fmt.Errorf("otp_ttl must be positive")
	}
	if p.ConfirmationTTL <= 0 {
		return fmt.Errorf("confirmation_ttl must be positive")
	}
	if p.BlockLimit < 1 {
		return fmt.Errorf("block_limit must be at least 1")
	}
	return nil
}

// Validate checks that all required configuration is present and coherent
func (c *Config) Validate() error {
	if err := c.DefaultPolicy.validate(); err != nil {
		return fmt.Errorf("default policy: %w", err)
	}
	if c.ScoringTimeout <= 0 {
		return fmt.Errorf("SCORING_TIMEOUT must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
