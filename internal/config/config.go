// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrGeminiAPIKeyRequired is returned when GEMINI_API_KEY is not set.
	ErrGeminiAPIKeyRequired = errors.New("config: GEMINI_API_KEY is required")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Model provider settings
	GeminiAPIKey string `env:"GEMINI_API_KEY, required" json:"-"` // Masked in JSON
	GeminiModel  string `env:"GEMINI_MODEL, default=gemini-2.0-flash" json:"gemini_model"`

	// Record store settings. Empty means the in-memory repository is used.
	DatabaseURL string `env:"DATABASE_URL" json:"-"`

	// Scratch storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/photocull" json:"temp_dir"`

	// Blob store settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3PublicURL        string `env:"S3_PUBLIC_URL" json:"s3_public_url,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Pipeline concurrency bounds
	LabelConcurrency          int `env:"LABEL_CONCURRENCY, default=10" json:"label_concurrency"`
	ClusterCompareConcurrency int `env:"CLUSTER_COMPARE_CONCURRENCY, default=20" json:"cluster_compare_concurrency"`
	MergeCompareConcurrency   int `env:"MERGE_COMPARE_CONCURRENCY, default=40" json:"merge_compare_concurrency"`
	MatchConcurrency          int `env:"MATCH_CONCURRENCY, default=8" json:"match_concurrency"`
	BucketTournaments         int `env:"BUCKET_TOURNAMENTS, default=3" json:"bucket_tournaments"`
	EnhanceConcurrency        int `env:"ENHANCE_CONCURRENCY, default=3" json:"enhance_concurrency"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// PostgresEnabled returns true if a record-store connection string is provided.
func (c *Config) PostgresEnabled() bool {
	return c.DatabaseURL != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "GEMINI_API_KEY") {
			return nil, ErrGeminiAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return ErrGeminiAPIKeyRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, GeminiModel: %s, TempDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.GeminiModel,
		c.TempDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
