// Package config loads service configuration from config.yaml with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/foresight-inc/foresight-engine/pkg/database"
)

// Config holds all configuration for foresight-engine.
// Configuration can come from YAML file (config.yaml) or environment
// variables; environment variables always override YAML values. Secrets
// (passwords, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// CORSAllowedOriginsStr is a comma-separated list of origins allowed to
	// call the API from a browser. Empty disables CORS headers entirely.
	CORSAllowedOriginsStr string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:""`

	// CORSAllowedOrigins is the parsed list from CORSAllowedOriginsStr.
	CORSAllowedOrigins []string `yaml:"-"`

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis cache configuration (optional; empty host disables caching)
	Redis database.RedisConfig `yaml:"redis"`

	// Model endpoint configuration
	AI AIConfig `yaml:"ai"`

	// Synthesis configuration
	Synthesis SynthesisConfig `yaml:"synthesis"`

	// MigrationsPath is the directory containing SQL migration files.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without an auth server; all
	// requests are then anonymous.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"foresight"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"foresight_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// AIConfig holds the model endpoint settings used for synthesis calls.
type AIConfig struct {
	BaseURL        string  `yaml:"base_url" env:"AI_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model          string  `yaml:"model" env:"AI_MODEL" env-default:"gpt-4o"`
	APIKey         string  `yaml:"-" env:"AI_API_KEY"` // Secret - not in YAML
	Temperature    float64 `yaml:"temperature" env:"AI_TEMPERATURE" env-default:"0.7"`
	MaxTokens      int     `yaml:"max_tokens" env:"AI_MAX_TOKENS" env-default:"8192"`
	TimeoutSeconds int     `yaml:"timeout_seconds" env:"AI_TIMEOUT_SECONDS" env-default:"90"`
}

// Timeout returns the per-call model endpoint timeout.
func (c *AIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SynthesisConfig tunes the timeline synthesis pipeline.
type SynthesisConfig struct {
	// YearsBack is how far into the past historical research reaches.
	YearsBack int `yaml:"years_back" env:"SYNTHESIS_YEARS_BACK" env-default:"10"`

	// PopularCacheTTLSeconds is how long the popular-timelines listing is
	// served from Redis before being recomputed.
	PopularCacheTTLSeconds int `yaml:"popular_cache_ttl_seconds" env:"SYNTHESIS_POPULAR_CACHE_TTL_SECONDS" env-default:"300"`
}

// PopularCacheTTL returns the popular-listing cache TTL.
func (c *SynthesisConfig) PopularCacheTTL() time.Duration {
	return time.Duration(c.PopularCacheTTLSeconds) * time.Second
}

// Load reads configuration from config.yaml with environment variable
// overrides. When config.yaml is absent (containers configured purely via
// environment), falls back to environment variables alone.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)
	cfg.CORSAllowedOrigins = splitTrimmed(cfg.CORSAllowedOriginsStr)

	if cfg.Auth.EnableVerification && len(cfg.Auth.JWKSEndpoints) == 0 {
		return nil, fmt.Errorf("auth verification enabled but no JWKS endpoints configured")
	}

	return cfg, nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// splitTrimmed splits a comma-separated list, trimming whitespace and
// dropping empty items.
func splitTrimmed(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
