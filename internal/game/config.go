package game

import (
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"
)

const (
	TICK_INTERVAL     = 100 * time.Millisecond
	BETTING_DURATION  = 10 * time.Second
	SEED_POLL_EVERY   = 250 * time.Millisecond
	SEED_TIMEOUT      = 30 * time.Second
	INTER_ROUND_DELAY = 3 * time.Second

	MIN_BET_CENTS = int64(100)     // 1.00
	MAX_BET_CENTS = int64(1000000) // 10,000.00
)

var (
	MIN_TARGET = decimal.RequireFromString("1.01")
	MAX_TARGET = decimal.RequireFromString("10000.00")
)

// Config carries the round timing and bet limits. Zero fields are filled
// with the defaults above.
type Config struct {
	BettingDuration  time.Duration
	TickInterval     time.Duration
	SeedPollInterval time.Duration
	SeedTimeout      time.Duration
	InterRoundDelay  time.Duration

	MinBet    int64
	MaxBet    int64
	MinTarget decimal.Decimal
	MaxTarget decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		BettingDuration:  BETTING_DURATION,
		TickInterval:     TICK_INTERVAL,
		SeedPollInterval: SEED_POLL_EVERY,
		SeedTimeout:      SEED_TIMEOUT,
		InterRoundDelay:  INTER_ROUND_DELAY,
		MinBet:           MIN_BET_CENTS,
		MaxBet:           MAX_BET_CENTS,
		MinTarget:        MIN_TARGET,
		MaxTarget:        MAX_TARGET,
	}
}

// ConfigFromEnv reads overrides from the environment (durations in Go
// syntax, amounts in cents).
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.BettingDuration = getEnvDuration("CRASH_BETTING_DURATION", cfg.BettingDuration)
	cfg.TickInterval = getEnvDuration("CRASH_TICK_INTERVAL", cfg.TickInterval)
	cfg.SeedPollInterval = getEnvDuration("CRASH_SEED_POLL_INTERVAL", cfg.SeedPollInterval)
	cfg.SeedTimeout = getEnvDuration("CRASH_SEED_TIMEOUT", cfg.SeedTimeout)
	cfg.InterRoundDelay = getEnvDuration("CRASH_INTER_ROUND_DELAY", cfg.InterRoundDelay)
	cfg.MinBet = getEnvInt64("CRASH_MIN_BET", cfg.MinBet)
	cfg.MaxBet = getEnvInt64("CRASH_MAX_BET", cfg.MaxBet)
	return cfg
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BettingDuration <= 0 {
		c.BettingDuration = def.BettingDuration
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.SeedPollInterval <= 0 {
		c.SeedPollInterval = def.SeedPollInterval
	}
	if c.SeedTimeout <= 0 {
		c.SeedTimeout = def.SeedTimeout
	}
	if c.InterRoundDelay < 0 {
		c.InterRoundDelay = def.InterRoundDelay
	}
	if c.MinBet <= 0 {
		c.MinBet = def.MinBet
	}
	if c.MaxBet <= 0 {
		c.MaxBet = def.MaxBet
	}
	if c.MinTarget.IsZero() {
		c.MinTarget = def.MinTarget
	}
	if c.MaxTarget.IsZero() {
		c.MaxTarget = def.MaxTarget
	}
	return c
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}
