package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.VectorStore.Backend)
	assert.Equal(t, 200_000, cfg.Budget.MaxDailyTokens)
	assert.Equal(t, 30, cfg.Auth.AccessTokenMinutes)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("MAX_DAILY_TOKENS", "5000")
	t.Setenv("LLM_PROVIDER", "anthropic")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Budget.MaxDailyTokens)
	assert.Equal(t, "anthropic", cfg.LLMClient.Provider)
}
