// Package config loads the engine's runtime tunables from the environment,
// mirroring internal/config/config.go's getEnv/getEnvBool/getEnvInt/
// getEnvDuration/getEnvDecimal helper pattern. Values are deliberately kept
// as decimal.Decimal or time.Duration rather than raw strings so every
// downstream package can consume them directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/hedgecore/engine/breaker"
	"github.com/hedgecore/engine/orchestrator"
	"github.com/hedgecore/engine/slice"
)

// Config holds every tunable the hedge engine reads from the environment.
type Config struct {
	SliceFillTimeout        time.Duration
	FillCheckInterval       time.Duration
	OpenPollCeiling         time.Duration
	ClosePollCeiling        time.Duration
	MaxImbalancePercent     decimal.Decimal
	FundingBuffer           time.Duration
	MinSlices               int
	MaxSlices               int
	MaxPortfolioPctPerSlice decimal.Decimal
	MaxUSDPerSlice          decimal.Decimal
	MinPositionSizeUSD      decimal.Decimal
	Leverage                decimal.Decimal
	StaleLockCeiling        time.Duration
	JanitorInterval         time.Duration

	BreakerErrorThreshold      int
	BreakerWindow              time.Duration
	BreakerCooldown            time.Duration
	BreakerHalfOpenProbeVolume int

	// Diagnostic sinks
	TelegramToken  string
	TelegramChatID int64
	DiagnosticsDSN string // sqlsink connection string; empty disables it
	JournalDSN     string // journal connection string/path; empty disables it

	DryRun bool
}

// Load reads .env (if present, via godotenv — missing is not an error, same
// as cmd/polybot/main.go's startup sequence) then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		SliceFillTimeout:        getEnvDuration("SLICE_FILL_TIMEOUT", 45*time.Second),
		FillCheckInterval:       getEnvDuration("FILL_CHECK_INTERVAL", 2*time.Second),
		OpenPollCeiling:         getEnvDuration("OPEN_POLL_CEILING", 16*time.Second),
		ClosePollCeiling:        getEnvDuration("CLOSE_POLL_CEILING", 32*time.Second),
		MaxImbalancePercent:     getEnvDecimal("MAX_IMBALANCE_PERCENT", decimal.NewFromFloat(0.05)),
		FundingBuffer:           getEnvDuration("FUNDING_BUFFER", 90*time.Second),
		MinSlices:               getEnvInt("MIN_SLICES", 1),
		MaxSlices:               getEnvInt("MAX_SLICES", 20),
		MaxPortfolioPctPerSlice: getEnvDecimal("MAX_PORTFOLIO_PCT_PER_SLICE", decimal.NewFromFloat(0.10)),
		MaxUSDPerSlice:          getEnvDecimal("MAX_USD_PER_SLICE", decimal.NewFromFloat(5000)),
		MinPositionSizeUSD:      getEnvDecimal("MIN_POSITION_SIZE_USD", decimal.NewFromFloat(25)),
		Leverage:                getEnvDecimal("LEVERAGE", decimal.NewFromFloat(3)),
		StaleLockCeiling:        getEnvDuration("STALE_LOCK_CEILING", 450*time.Second),
		JanitorInterval:         getEnvDuration("JANITOR_INTERVAL", 30*time.Second),

		BreakerErrorThreshold:      getEnvInt("BREAKER_ERROR_THRESHOLD", 3),
		BreakerWindow:              getEnvDuration("BREAKER_WINDOW", 5*time.Minute),
		BreakerCooldown:            getEnvDuration("BREAKER_COOLDOWN", 2*time.Minute),
		BreakerHalfOpenProbeVolume: getEnvInt("BREAKER_HALF_OPEN_PROBE_VOLUME", 2),

		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		DiagnosticsDSN: os.Getenv("DIAGNOSTICS_DSN"),
		JournalDSN:     getEnv("JOURNAL_DSN", "data/hedgeengine.db"),

		DryRun: getEnvBool("DRY_RUN", true),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	return cfg, nil
}

// OrchestratorConfig assembles the orchestrator.Config this configuration
// describes, so cmd/hedgeengine doesn't have to know the field mapping.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		Plan: orchestrator.PlanConfig{
			SliceFillTimeout:        c.SliceFillTimeout,
			FundingBuffer:           c.FundingBuffer,
			MinSlices:               c.MinSlices,
			MaxSlices:               c.MaxSlices,
			MaxPortfolioPctPerSlice: c.MaxPortfolioPctPerSlice,
			MaxUSDPerSlice:          c.MaxUSDPerSlice,
		},
		Slice: slice.Config{
			SliceFillTimeout:        c.SliceFillTimeout,
			FillCheckInterval:       c.FillCheckInterval,
			OpenPollCeiling:         c.OpenPollCeiling,
			ClosePollCeiling:        c.ClosePollCeiling,
			MaxImbalancePercent:     c.MaxImbalancePercent,
			MaxPortfolioPctPerSlice: c.MaxPortfolioPctPerSlice,
			MaxUSDPerSlice:          c.MaxUSDPerSlice,
		},
		Breaker: breaker.Config{
			ErrorThreshold:      c.BreakerErrorThreshold,
			Window:              c.BreakerWindow,
			Cooldown:            c.BreakerCooldown,
			HalfOpenProbeVolume: c.BreakerHalfOpenProbeVolume,
		},
		Leverage:       c.Leverage,
		MinPositionUSD: c.MinPositionSizeUSD,
		StaleCeiling:   c.StaleLockCeiling,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
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
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
