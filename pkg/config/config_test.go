package config_test

import (
	"testing"

	"github.com/agentguard/agentguard/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HOST", "PORT", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL",
		"ADMIN_API_KEY", "JWT_PRIVATE_KEY", "JWT_ALGORITHM",
		"JWT_AGENT_EXPIRE_SECONDS", "JWT_ADMIN_EXPIRE_SECONDS",
		"WEBHOOK_URL", "WEBHOOK_SECRET", "RATE_LIMIT_ENABLED",
		"RATE_LIMIT_STORAGE_URI", "CORS_ORIGINS", "REQUEST_TIMEOUT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Contains(t, cfg.DatabaseURL, "localhost")
	assert.Equal(t, "RS256", cfg.JWTAlgorithm)
	assert.Equal(t, 3600, cfg.JWTAgentExpireSeconds)
	assert.Equal(t, 28800, cfg.JWTAdminExpireSeconds)
	assert.True(t, cfg.RateLimitEnabled)
	assert.Equal(t, "memory://", cfg.RateLimitStorageURI)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://prod@db:5432/agentguard")
	t.Setenv("JWT_ALGORITHM", "ES256")
	t.Setenv("RATE_LIMIT_STORAGE_URI", "redis://cache:6379/0")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://prod@db:5432/agentguard", cfg.DatabaseURL)
	assert.Equal(t, "ES256", cfg.JWTAlgorithm)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
	// ES256 is loaded as given, but Validate accepts only RS256.
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownAlgorithm(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("JWT_ALGORITHM", "HS256")
	cfg := config.Load()
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadRateLimitURI(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("RATE_LIMIT_STORAGE_URI", "file:///tmp/buckets")
	cfg := config.Load()
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadDatabaseURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DATABASE_URL", "mongodb://localhost/agentguard")
	cfg := config.Load()
	require.Error(t, cfg.Validate())
}
