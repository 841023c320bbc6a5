// Package config carries service configuration sourced from the
// environment. Scoring weights, marker tables, and stage thresholds are
// not configured here; those live in versioned YAML handled by pkg/risk.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnrichProvider names an advisory analyzer backend.
type EnrichProvider string

const (
	EnrichNone   EnrichProvider = ""
	EnrichOpenAI EnrichProvider = "openai"
	EnrichRemote EnrichProvider = "remote"
	EnrichLocal  EnrichProvider = "local"
)

// Config is the full service configuration.
type Config struct {
	// HTTP server
	ListenAddr      string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Logging
	LogLevel string

	// Configuration directory for scoring.yaml / markers.yaml overrides.
	// Empty means built-in defaults only.
	ConfigDir string

	// Redis, optional. Empty disables redis-backed exposure state and the
	// audit stream; the service falls back to in-memory state.
	RedisAddr     string
	RedisPassword string

	// Postgres, optional. Empty disables the audit outbox.
	PostgresDSN string

	// Enrichment, optional.
	EnrichProvider  EnrichProvider
	EnrichEndpoint  string
	EnrichAPIKey    string
	EnrichModel     string
	EnrichTimeout   time.Duration
	EnrichModelPath string
	OnnxLibraryPath string
}

// NewDefaultConfig builds a config from the environment with safe
// defaults for everything unset.
func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr:      getEnv("RAMPART_LISTEN_ADDR", ":8080"),
		ReadTimeout:     time.Duration(clampInt(GetEnvInt("RAMPART_READ_TIMEOUT_SECONDS", 30), 1, 300)) * time.Second,
		ShutdownTimeout: time.Duration(clampInt(GetEnvInt("RAMPART_SHUTDOWN_TIMEOUT_SECONDS", 15), 1, 120)) * time.Second,
		LogLevel:        getEnv("RAMPART_LOG_LEVEL", "info"),
		ConfigDir:       getEnv("RAMPART_CONFIG_DIR", ""),
		RedisAddr:       getEnv("RAMPART_REDIS_ADDR", ""),
		RedisPassword:   getEnv("RAMPART_REDIS_PASSWORD", ""),
		PostgresDSN:     getEnv("RAMPART_POSTGRES_DSN", ""),
		EnrichProvider:  EnrichProvider(strings.ToLower(getEnv("RAMPART_ENRICH_PROVIDER", ""))),
		EnrichEndpoint:  getEnv("RAMPART_ENRICH_ENDPOINT", ""),
		EnrichAPIKey:    getEnv("RAMPART_OPENAI_API_KEY", os.Getenv("OPENAI_API_KEY")),
		EnrichModel:     getEnv("RAMPART_ENRICH_MODEL", ""),
		EnrichTimeout:   time.Duration(clampInt(GetEnvInt("RAMPART_ENRICH_TIMEOUT_SECONDS", 15), 1, 120)) * time.Second,
		EnrichModelPath: getEnv("RAMPART_EMBEDDING_MODEL_PATH", ""),
		OnnxLibraryPath: getEnv("RAMPART_ONNX_LIBRARY_PATH", ""),
	}
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("config: listen address is required")
	}
	switch c.EnrichProvider {
	case EnrichNone, EnrichOpenAI, EnrichRemote, EnrichLocal:
	default:
		return fmt.Errorf("config: unknown enrichment provider %q", c.EnrichProvider)
	}
	if c.EnrichProvider == EnrichRemote && strings.TrimSpace(c.EnrichEndpoint) == "" {
		return fmt.Errorf("config: remote enrichment requires RAMPART_ENRICH_ENDPOINT")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GetEnvInt reads an integer environment variable, returning fallback for
// unset or unparsable values.
func GetEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
