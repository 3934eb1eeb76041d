package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/groupmind/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithFile(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123456:abc"
gemini:
  api_key: "key"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 20, cfg.Pipeline.HistoryWindow)
	assert.Equal(t, 5, cfg.Pipeline.TopK)
	assert.Equal(t, 2*time.Minute, cfg.Pipeline.ProcessingDeadline)
	assert.Equal(t, config.KnowledgeBestEffort, cfg.Pipeline.KnowledgePolicy)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 768, cfg.Gemini.EmbeddingDimensions)
	assert.Equal(t, 2, cfg.Ingest.Concurrency)
	assert.True(t, cfg.Scheduler.Tasks["knowledge_ingest"].Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Summary.Window)
	assert.Equal(t, 7, cfg.Summary.MinMessages)
	assert.True(t, cfg.Summary.Command)
	assert.False(t, cfg.Scheduler.Tasks["group_summary"].Enabled)
	assert.Equal(t, "0 21 * * *", cfg.Scheduler.Tasks["group_summary"].Schedule)
}

func TestLoad_FileOverridesAndEnv(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "from-file"
  aliases: ["helper", "bot"]
gemini:
  api_key: "key"
pipeline:
  history_window: 10
  processing_deadline: 30s
  knowledge_policy: required
retry:
  base_delay: 100ms
`)
	t.Setenv("GROUPMIND_TELEGRAM_TOKEN", "from-env")
	t.Setenv("GROUPMIND_PIPELINE_TOP_K", "3")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, []string{"helper", "bot"}, cfg.Telegram.Aliases)
	assert.Equal(t, 10, cfg.Pipeline.HistoryWindow)
	assert.Equal(t, 3, cfg.Pipeline.TopK)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.ProcessingDeadline)
	assert.Equal(t, config.KnowledgeRequired, cfg.Pipeline.KnowledgePolicy)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.BaseDelay)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing token", body: "gemini:\n  api_key: k\n"},
		{name: "missing api key", body: "telegram:\n  token: t\n"},
		{name: "bad policy", body: "telegram:\n  token: t\ngemini:\n  api_key: k\npipeline:\n  knowledge_policy: sometimes\n"},
		{name: "short summary window", body: "telegram:\n  token: t\ngemini:\n  api_key: k\nsummary:\n  window: 10m\n"},
		{name: "zero attempts", body: "telegram:\n  token: t\ngemini:\n  api_key: k\nretry:\n  max_attempts: 0\n"},
		{name: "bad log level", body: "telegram:\n  token: t\ngemini:\n  api_key: k\nlog:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, config.ErrConfiguration)
		})
	}
}

func TestLoad_ExplicitPathMissing(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, config.ErrConfiguration)
}
