package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/quantabg/finreview/models"
)

// Config holds all detection and service configuration. Components
// receive it explicitly through their constructors; nothing reads it
// from ambient state, so independent configurations can run side by side.
type Config struct {
	ZScoreThreshold     float64 `env:"ZSCORE_THRESHOLD" envDefault:"3.0"`
	MADThreshold        float64 `env:"MAD_THRESHOLD" envDefault:"3.0"`
	Contamination       float64 `env:"ISOLATION_CONTAMINATION" envDefault:"0.1"`
	MinWindow           int     `env:"MIN_WINDOW" envDefault:"6"`
	MinNonZeroPeriods   int     `env:"MIN_NONZERO_PERIODS" envDefault:"3"`
	IsolationMinPeriods int     `env:"ISOLATION_MIN_PERIODS" envDefault:"8"`
	MaxContributors     int     `env:"MAX_CONTRIBUTORS" envDefault:"5"`
	Workers             int     `env:"WORKERS" envDefault:"4"`
	EntityLevel         bool    `env:"ENTITY_LEVEL" envDefault:"false"`

	// Severity breakpoints (percent deviation) and the volatility
	// multiplier gating high severity.
	SeverityHighPct      float64 `env:"SEVERITY_HIGH_PCT" envDefault:"50"`
	SeverityMediumPct    float64 `env:"SEVERITY_MEDIUM_PCT" envDefault:"25"`
	SeverityMultiPct     float64 `env:"SEVERITY_MULTI_METHOD_PCT" envDefault:"10"`
	VolatilityMultiplier float64 `env:"VOLATILITY_MULTIPLIER" envDefault:"2.0"`

	// Normalized-deviation breakpoints for confidence grading.
	ConfidenceTwoMethodDev float64 `env:"CONFIDENCE_TWO_METHOD_DEV" envDefault:"3.0"`
	ConfidenceOneMethodDev float64 `env:"CONFIDENCE_ONE_METHOD_DEV" envDefault:"4.0"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	var cfg Config

	cfg.ZScoreThreshold = getEnvFloatWithDefault("ZSCORE_THRESHOLD", 3.0)
	cfg.MADThreshold = getEnvFloatWithDefault("MAD_THRESHOLD", 3.0)
	cfg.Contamination = getEnvFloatWithDefault("ISOLATION_CONTAMINATION", 0.1)
	cfg.MinWindow = getEnvIntWithDefault("MIN_WINDOW", 6)
	cfg.MinNonZeroPeriods = getEnvIntWithDefault("MIN_NONZERO_PERIODS", 3)
	cfg.IsolationMinPeriods = getEnvIntWithDefault("ISOLATION_MIN_PERIODS", 8)
	cfg.MaxContributors = getEnvIntWithDefault("MAX_CONTRIBUTORS", 5)
	cfg.Workers = getEnvIntWithDefault("WORKERS", 4)
	cfg.EntityLevel = getEnvBoolWithDefault("ENTITY_LEVEL", false)
	cfg.SeverityHighPct = getEnvFloatWithDefault("SEVERITY_HIGH_PCT", 50)
	cfg.SeverityMediumPct = getEnvFloatWithDefault("SEVERITY_MEDIUM_PCT", 25)
	cfg.SeverityMultiPct = getEnvFloatWithDefault("SEVERITY_MULTI_METHOD_PCT", 10)
	cfg.VolatilityMultiplier = getEnvFloatWithDefault("VOLATILITY_MULTIPLIER", 2.0)
	cfg.ConfidenceTwoMethodDev = getEnvFloatWithDefault("CONFIDENCE_TWO_METHOD_DEV", 3.0)
	cfg.ConfidenceOneMethodDev = getEnvFloatWithDefault("CONFIDENCE_ONE_METHOD_DEV", 4.0)
	cfg.LogLevel = getEnvWithDefault("LOG_LEVEL", "info")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects thresholds and windows outside their valid ranges.
// A failure here aborts the run before any bucket is processed.
func (c *Config) Validate() error {
	if c.ZScoreThreshold <= 0 {
		return &models.ConfigurationError{Field: "ZSCORE_THRESHOLD", Reason: "must be positive"}
	}
	if c.MADThreshold <= 0 {
		return &models.ConfigurationError{Field: "MAD_THRESHOLD", Reason: "must be positive"}
	}
	if c.Contamination <= 0 || c.Contamination > 0.5 {
		return &models.ConfigurationError{Field: "ISOLATION_CONTAMINATION", Reason: "must be in (0, 0.5]"}
	}
	if c.MinWindow < 3 {
		return &models.ConfigurationError{Field: "MIN_WINDOW", Reason: "must be at least 3"}
	}
	if c.MinNonZeroPeriods < 1 {
		return &models.ConfigurationError{Field: "MIN_NONZERO_PERIODS", Reason: "must be at least 1"}
	}
	if c.IsolationMinPeriods < 4 {
		return &models.ConfigurationError{Field: "ISOLATION_MIN_PERIODS", Reason: "must be at least 4"}
	}
	if c.MaxContributors < 1 {
		return &models.ConfigurationError{Field: "MAX_CONTRIBUTORS", Reason: "must be at least 1"}
	}
	if c.Workers < 1 {
		return &models.ConfigurationError{Field: "WORKERS", Reason: "must be at least 1"}
	}
	if c.SeverityHighPct <= 0 || c.SeverityMediumPct <= 0 || c.SeverityMultiPct <= 0 {
		return &models.ConfigurationError{Field: "severity breakpoints", Reason: "must be positive"}
	}
	if c.SeverityMediumPct >= c.SeverityHighPct {
		return &models.ConfigurationError{Field: "SEVERITY_MEDIUM_PCT", Reason: "must be below SEVERITY_HIGH_PCT"}
	}
	if c.VolatilityMultiplier <= 0 {
		return &models.ConfigurationError{Field: "VOLATILITY_MULTIPLIER", Reason: "must be positive"}
	}
	if c.ConfidenceTwoMethodDev <= 0 || c.ConfidenceOneMethodDev <= 0 {
		return &models.ConfigurationError{Field: "confidence breakpoints", Reason: "must be positive"}
	}
	return nil
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}
