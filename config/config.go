// Package config loads server configuration from the environment.
//
// A .env file, if present, is loaded first by cmd/server. Every key has a
// default except JWT_SECRET, which is required when APP_ENV=production.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// devJWTSecret signs sessions outside production when JWT_SECRET is unset.
const devJWTSecret = "dev-only-insecure-secret"

type Config struct {
	Env            string
	Port           int
	DatabasePath   string
	JWTSecret      string
	TokenTTL       time.Duration
	SeedFile       string
	CurrencyScale  int32
	SettleRetries  int
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
}

// IsProduction reports whether APP_ENV is "production".
func (c *Config) IsProduction() bool { return c.Env == "production" }

// UsesDevSecret reports whether sessions are signed with the built-in secret.
func (c *Config) UsesDevSecret() bool { return c.JWTSecret == devJWTSecret }

func Load() (*Config, error) {
	tokenTTL, ttlErr := getEnvDuration("TOKEN_TTL", 24*time.Hour)
	port, portErr := getEnvInt("PORT", 8080)
	scale, scaleErr := getEnvInt32("CURRENCY_SCALE", 0)
	retries, retriesErr := getEnvInt("SETTLE_MAX_RETRIES", 3)
	if err := errors.Join(ttlErr, portErr, scaleErr, retriesErr); err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:            getEnvString("APP_ENV", "development"),
		Port:           port,
		DatabasePath:   getEnvString("DATABASE_PATH", "ledger.db"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		TokenTTL:       tokenTTL,
		SeedFile:       getEnvString("SEED_FILE", ""),
		CurrencyScale:  scale,
		SettleRetries:  retries,
		LogLevel:       getEnvString("LOG_LEVEL", "info"),
		LogFormat:      getEnvString("LOG_FORMAT", "json"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}
	if cfg.JWTSecret == "" && !cfg.IsProduction() {
		cfg.JWTSecret = devJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATH is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required in production"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL))
	}
	if c.CurrencyScale < 0 || c.CurrencyScale > 8 {
		errs = append(errs, fmt.Errorf("CURRENCY_SCALE must be between 0 and 8, got %d", c.CurrencyScale))
	}
	if c.SettleRetries < 0 {
		errs = append(errs, fmt.Errorf("SETTLE_MAX_RETRIES must not be negative, got %d", c.SettleRetries))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %q", key, value)
		}
		return intValue, nil
	}
	return defaultValue, nil
}

// getEnvInt32 rejects values outside the int32 range instead of truncating.
func getEnvInt32(key string, defaultValue int32) (int32, error) {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %q", key, value)
		}
		return int32(intValue), nil
	}
	return defaultValue, nil
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
