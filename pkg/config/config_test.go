package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("AUTH_ENABLE_VERIFICATION", "false")
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("PGPASSWORD", "hunter2")
	t.Setenv("AI_MODEL", "gpt-4o-mini")
	t.Setenv("AI_TIMEOUT_SECONDS", "120")

	cfg, err := Load("test-version")
	require.NoError(t, err)

	assert.Equal(t, "test-version", cfg.Version)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "hunter2", cfg.Database.Password)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.Model)
	assert.Equal(t, 120*time.Second, cfg.AI.Timeout())
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTH_ENABLE_VERIFICATION", "false")

	cfg, err := Load("dev")
	require.NoError(t, err)

	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, 0.7, cfg.AI.Temperature)
	assert.Equal(t, 90*time.Second, cfg.AI.Timeout())
	assert.Equal(t, 10, cfg.Synthesis.YearsBack)
	assert.Equal(t, 5*time.Minute, cfg.Synthesis.PopularCacheTTL())
	assert.Equal(t, "migrations", cfg.MigrationsPath)
}

func TestLoad_VerificationRequiresEndpoints(t *testing.T) {
	t.Setenv("AUTH_ENABLE_VERIFICATION", "true")
	t.Setenv("JWKS_ENDPOINTS", "")

	_, err := Load("dev")
	assert.Error(t, err)
}

func TestLoad_ParsesJWKSEndpoints(t *testing.T) {
	t.Setenv("AUTH_ENABLE_VERIFICATION", "true")
	t.Setenv("JWKS_ENDPOINTS", "https://a.example.com=https://a.example.com/jwks.json, https://b.example.com=https://b.example.com/keys")

	cfg, err := Load("dev")
	require.NoError(t, err)

	require.Len(t, cfg.Auth.JWKSEndpoints, 2)
	assert.Equal(t, "https://a.example.com/jwks.json", cfg.Auth.JWKSEndpoints["https://a.example.com"])
	assert.Equal(t, "https://b.example.com/keys", cfg.Auth.JWKSEndpoints["https://b.example.com"])
}

func TestConnectionString(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "foresight",
		Password: "pw",
		Database: "foresight_engine",
		SSLMode:  "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=foresight password=pw dbname=foresight_engine sslmode=disable",
		cfg.ConnectionString())
}
