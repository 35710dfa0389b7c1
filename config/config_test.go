package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWithOptions(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "donorflow", cfg.Database.DBName)
	assert.Equal(t, "require", cfg.Database.SSLMode)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)

	assert.Equal(t, time.Minute, cfg.Engine.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Engine.RefreshInterval)
	assert.Equal(t, 100, cfg.Engine.BatchSize)
	assert.Equal(t, 10, cfg.Engine.Workers)
	assert.Equal(t, 30*time.Second, cfg.Engine.StepTimeout)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Engine.StaleClaimAfter)

	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "Donorflow", cfg.SMTP.FromName)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, VERSION, cfg.Version)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_NAME", "donorflow_test")
	t.Setenv("ENGINE_POLL_INTERVAL", "15s")
	t.Setenv("ENGINE_WORKERS", "4")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("WEBHOOK_ENDPOINT", "https://hooks.example.com/donorflow")
	t.Setenv("ENVIRONMENT", "development")

	cfg, err := LoadWithOptions(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "donorflow_test", cfg.Database.DBName)
	assert.Equal(t, 15*time.Second, cfg.Engine.PollInterval)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	assert.Equal(t, "https://hooks.example.com/donorflow", cfg.Webhook.Endpoint)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	cfg, err := LoadWithOptions(LoadOptions{EnvFile: ".env.does-not-exist"})
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
