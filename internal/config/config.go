// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/shiko/internal/auth"
)

// Transports the server can speak.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config holds all application configuration.
type Config struct {
	// Transport selects how MCP clients connect: "stdio" (default) or "http".
	Transport string

	// HTTP server settings. Ignored for the stdio transport.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.

	// Auth settings for the HTTP transport.
	AuthEnabled       bool
	APIKeyHash        string // Argon2id hash of the API key accepted by POST /auth/token.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Rate limiting on /mcp.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// Search settings.
	PresetsFile         string        // Optional YAML file replacing the built-in preset table.
	LedgerPath          string        // Optional SQLite file recording finalized runs.
	FrontierNudgeWindow time.Duration // How long a frontier request counts as recent.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel        string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		Transport:         strings.ToLower(envStr("SHIKO_TRANSPORT", TransportStdio)),
		APIKeyHash:        envStr("SHIKO_API_KEY_HASH", ""),
		JWTPrivateKeyPath: envStr("SHIKO_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:  envStr("SHIKO_JWT_PUBLIC_KEY", ""),
		PresetsFile:       envStr("SHIKO_PRESETS_FILE", ""),
		LedgerPath:        envStr("SHIKO_LEDGER_PATH", ""),
		OTELEndpoint:      envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:       envStr("OTEL_SERVICE_NAME", "shiko"),
		LogLevel:          envStr("SHIKO_LOG_LEVEL", "info"),
	}

	var err error
	cfg.Port, err = envInt("SHIKO_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("SHIKO_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("SHIKO_WRITE_TIMEOUT", 30*time.Second)
	collect(err)
	maxBody, err := envInt("SHIKO_MAX_REQUEST_BODY_BYTES", 1*1024*1024) // 1 MB default
	collect(err)
	cfg.MaxRequestBodyBytes = int64(maxBody)
	cfg.AuthEnabled, err = envBool("SHIKO_AUTH_ENABLED", false)
	collect(err)
	cfg.JWTExpiration, err = envDuration("SHIKO_JWT_EXPIRATION", 24*time.Hour)
	collect(err)
	cfg.RateLimitEnabled, err = envBool("SHIKO_RATE_LIMIT_ENABLED", true)
	collect(err)
	cfg.RateLimitRPS, err = envFloat("SHIKO_RATE_LIMIT_RPS", 20)
	collect(err)
	cfg.RateLimitBurst, err = envInt("SHIKO_RATE_LIMIT_BURST", 40)
	collect(err)
	cfg.FrontierNudgeWindow, err = envDuration("SHIKO_FRONTIER_NUDGE_WINDOW", 30*time.Minute)
	collect(err)
	cfg.OTELInsecure, err = envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	collect(err)
	cfg.ShutdownTimeout, err = envDuration("SHIKO_SHUTDOWN_TIMEOUT", 10*time.Second)
	collect(err)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("config: SHIKO_TRANSPORT must be %q or %q, got %q", TransportStdio, TransportHTTP, c.Transport)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: SHIKO_PORT must be between 1 and 65535")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: SHIKO_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("config: SHIKO_RATE_LIMIT_RPS and SHIKO_RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	if c.AuthEnabled {
		if c.Transport != TransportHTTP {
			return fmt.Errorf("config: SHIKO_AUTH_ENABLED requires SHIKO_TRANSPORT=http")
		}
		if c.APIKeyHash == "" {
			return fmt.Errorf("config: SHIKO_API_KEY_HASH is required when auth is enabled")
		}
		if err := auth.CheckHash(c.APIKeyHash); err != nil {
			return fmt.Errorf("config: SHIKO_API_KEY_HASH: %w", err)
		}
		if (c.JWTPrivateKeyPath == "") != (c.JWTPublicKeyPath == "") {
			return fmt.Errorf("config: SHIKO_JWT_PRIVATE_KEY and SHIKO_JWT_PUBLIC_KEY must be set together")
		}
	}
	if c.JWTExpiration <= 0 {
		return fmt.Errorf("config: SHIKO_JWT_EXPIRATION must be positive")
	}
	if c.FrontierNudgeWindow <= 0 {
		return fmt.Errorf("config: SHIKO_FRONTIER_NUDGE_WINDOW must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
