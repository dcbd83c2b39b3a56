package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 30, cfg.MessageRateLimit)
	assert.Equal(t, 5, cfg.MessageRateBurst)
	assert.Equal(t, time.Minute, cfg.MessageRateWindow)
	assert.Equal(t, 100, cfg.APIRateLimit)
	assert.Equal(t, 15*time.Minute, cfg.APIRateWindow)
	assert.Equal(t, 20, cfg.HistoryWindow)
	assert.False(t, cfg.UseMongo())
	assert.False(t, cfg.UseOpenAI())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "9090")
	t.Setenv("MESSAGE_RATE_LIMIT", "5")
	t.Setenv("MESSAGE_RATE_WINDOW", "30s")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 5, cfg.MessageRateLimit)
	assert.Equal(t, 30*time.Second, cfg.MessageRateWindow)
	assert.True(t, cfg.UseMongo())
	assert.True(t, cfg.UseOpenAI())
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("MESSAGE_RATE_LIMIT", "lots")
	t.Setenv("ANALYSIS_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.MessageRateLimit)
	assert.Equal(t, 10*time.Second, cfg.AnalysisTimeout)
}
