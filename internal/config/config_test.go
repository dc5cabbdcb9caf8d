package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: "test-key"
cache:
  enabled: true
dedupe:
  enabled: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.Equal(t, "gemini-2.0-flash-lite", cfg.LLM.Model)
	assert.Equal(t, int64(7*24*3600), cfg.Cache.TTLSeconds)
	assert.Equal(t, 5000, cfg.Cache.MaxEntries)
	assert.Equal(t, 0.82, cfg.Dedupe.Threshold)
	assert.Equal(t, 12, cfg.RateLimit.MaxCalls)
	assert.Equal(t, int64(12), cfg.RateLimit.BackoffSeconds)
	assert.Equal(t, 0.15, cfg.Costs.PromptPer1KTokens)
	assert.Equal(t, 0.60, cfg.Costs.CompletionPer1KTokens)
	assert.Equal(t, "configs/personas.yml", cfg.Pipeline.PersonasPath)
	assert.Equal(t, 48, cfg.Queue.ExpirePendingHours)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "data/run_logs.jsonl", cfg.Telemetry.Path)
}

func TestLoadConfigExpandsEnvSecrets(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "secret-from-env")
	t.Setenv("TEST_BOT_TOKEN", "bot-token-from-env")

	path := writeConfig(t, `
llm:
  api_key: "${TEST_GEMINI_KEY}"
telegram:
  enabled: true
  bot_token: "${TEST_BOT_TOKEN}"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-from-env", cfg.LLM.APIKey)
	assert.Equal(t, "bot-token-from-env", cfg.Telegram.BotToken)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
dedupe:
  threshold: 0.9
  window_days: 3
rate_limit:
  max_calls: 5
scout:
  max_items: 4
  feeds:
    - name: "feed-a"
      url: "https://example.com/a"
      item_selector: "div.item"
      title_selector: "h2"
      priority: 2
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Dedupe.Threshold)
	assert.Equal(t, 3, cfg.Dedupe.WindowDays)
	assert.Equal(t, 5, cfg.RateLimit.MaxCalls)
	assert.Equal(t, 4, cfg.Scout.MaxItems)
	require.Len(t, cfg.Scout.Feeds, 1)
	assert.Equal(t, "feed-a", cfg.Scout.Feeds[0].Name)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.Cache.Enabled)
	assert.True(t, cfg.Dedupe.Enabled)
	assert.True(t, cfg.Exports.Enabled)
	assert.Equal(t, 1, cfg.Pipeline.MaxRewritePasses)
}
