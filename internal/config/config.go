package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the screening engine.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogMode          string

	DatabaseURL  string
	EmbeddingDim int

	CompletionMode    string
	CompletionURL     string
	CompletionTimeout time.Duration

	DefaultMaxTurns       int
	DefaultSemanticWeight float64
	GroundingLimit        int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:              envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:      envOrDefault("APP_METRICS_NAMESPACE", "triage"),
		LogMode:               envOrDefault("APP_LOG_MODE", "dev"),
		DatabaseURL:           stringsTrimSpace("DATABASE_URL"),
		EmbeddingDim:          256,
		CompletionMode:        envOrDefault("COMPLETION_MODE", "auto"),
		CompletionURL:         stringsTrimSpace("COMPLETION_URL"),
		CompletionTimeout:     10 * time.Second,
		DefaultMaxTurns:       10,
		DefaultSemanticWeight: 0.7,
		GroundingLimit:        3,
		ShutdownTimeout:       15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTimeout, err = durationFromEnv("COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingDim, err = intFromEnv("KNOWLEDGE_EMBEDDING_DIM", cfg.EmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultMaxTurns, err = intFromEnv("SCREENING_MAX_TURNS", cfg.DefaultMaxTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultSemanticWeight, err = floatFromEnv("RETRIEVAL_SEMANTIC_WEIGHT", cfg.DefaultSemanticWeight)
	if err != nil {
		return Config{}, err
	}
	cfg.GroundingLimit, err = intFromEnv("RETRIEVAL_GROUNDING_LIMIT", cfg.GroundingLimit)
	if err != nil {
		return Config{}, err
	}

	switch strings.ToLower(cfg.CompletionMode) {
	case "auto", "http", "mock":
	default:
		return Config{}, fmt.Errorf("invalid COMPLETION_MODE: %q (expected auto|http|mock)", cfg.CompletionMode)
	}
	if cfg.EmbeddingDim <= 0 {
		return Config{}, fmt.Errorf("KNOWLEDGE_EMBEDDING_DIM must be positive")
	}
	if cfg.DefaultMaxTurns <= 0 {
		return Config{}, fmt.Errorf("SCREENING_MAX_TURNS must be positive")
	}
	if cfg.DefaultSemanticWeight < 0 || cfg.DefaultSemanticWeight > 1 {
		return Config{}, fmt.Errorf("RETRIEVAL_SEMANTIC_WEIGHT must be in [0, 1]")
	}
	if cfg.GroundingLimit <= 0 {
		return Config{}, fmt.Errorf("RETRIEVAL_GROUNDING_LIMIT must be positive")
	}
	if cfg.CompletionTimeout < time.Second {
		return Config{}, fmt.Errorf("COMPLETION_TIMEOUT must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}
