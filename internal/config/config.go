// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Security gate secrets
	SessionTokenSecret string // HMAC key for session-binding tokens
	EnvelopeSecret     string // shared secret for the transaction signature rounds
	WebAppKey          string // fixed application key used by browser callers

	// Rate limiting ceilings
	RequesterPerHour int // gift requests per requester per hour
	PairPerHour      int // gift requests per (requester, payer) pair per hour
	BurstMax         int // requests in the 60s burst window before a ban

	// Ban durations (hours)
	BurstBanHours  int
	BotBanHours    int
	ReplayBanHours int
	TamperBanHours int
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultRequesterPerHour = 200
	DefaultPairPerHour      = 30
	DefaultBurstMax         = 10
	DefaultBurstBanHours    = 1
	DefaultBotBanHours      = 6
	DefaultReplayBanHours   = 48
	DefaultTamperBanHours   = 72
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		SessionTokenSecret: os.Getenv("SESSION_TOKEN_SECRET"),
		EnvelopeSecret:     os.Getenv("ENVELOPE_SECRET"),
		WebAppKey:          os.Getenv("WEB_APP_KEY"),
		RequesterPerHour:   getEnvInt("REQUESTER_PER_HOUR", DefaultRequesterPerHour),
		PairPerHour:        getEnvInt("PAIR_PER_HOUR", DefaultPairPerHour),
		BurstMax:           getEnvInt("BURST_MAX", DefaultBurstMax),
		BurstBanHours:      getEnvInt("BURST_BAN_HOURS", DefaultBurstBanHours),
		BotBanHours:        getEnvInt("BOT_BAN_HOURS", DefaultBotBanHours),
		ReplayBanHours:     getEnvInt("REPLAY_BAN_HOURS", DefaultReplayBanHours),
		TamperBanHours:     getEnvInt("TAMPER_BAN_HOURS", DefaultTamperBanHours),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.SessionTokenSecret == "" {
		return fmt.Errorf("SESSION_TOKEN_SECRET is required")
	}
	if c.EnvelopeSecret == "" {
		return fmt.Errorf("ENVELOPE_SECRET is required")
	}
	if c.SessionTokenSecret == c.EnvelopeSecret {
		return fmt.Errorf("SESSION_TOKEN_SECRET and ENVELOPE_SECRET must differ")
	}
	if c.RequesterPerHour <= 0 || c.PairPerHour <= 0 || c.BurstMax <= 0 {
		return fmt.Errorf("rate limit ceilings must be positive")
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
