package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("database:\n  url: postgres://u:p@localhost/db\n"), false)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "job_queue", cfg.Queue.Channel)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrent)
	assert.Equal(t, 2.0, cfg.Pipeline.Retry.BackoffFactor)
	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, "data/chunks", cfg.Store.BadgerPath)
	assert.Equal(t, "hash", cfg.Embedding.Provider)
	assert.False(t, cfg.Runtime.Dev)
}

func TestParseOverrides(t *testing.T) {
	raw := `
log:
  level: debug
  format: console
database:
  url: postgres://localhost/db
  max_conns: 4
redis:
  url: localhost:6379
queue:
  channel: docs_queue
  poll_interval: 250ms
pipeline:
  max_concurrent: 2
  retry:
    max_retries: 5
    base_delay: 10ms
    backoff_factor: 3
store:
  backend: redis
  batch_size: 10
embedding:
  provider: openai
  openai_key: sk-test
  rate_per_minute: 600
`
	cfg, err := Parse([]byte(raw), true)
	require.NoError(t, err)
	assert.Equal(t, "docs_queue", cfg.Queue.Channel)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.PollInterval)
	assert.Equal(t, 5, cfg.Pipeline.Retry.MaxRetries)
	assert.Equal(t, 3.0, cfg.Pipeline.Retry.BackoffFactor)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, 10, cfg.Store.BatchSize)
	assert.True(t, cfg.Runtime.Dev)
}

func TestParseExplicitZeroRetries(t *testing.T) {
	raw := `
database:
  url: postgres://u:p@localhost/db
queue:
  max_retries: 0
pipeline:
  retry:
    max_retries: 0
store:
  item_retries: 0
`
	cfg, err := Parse([]byte(raw), false)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Queue.MaxRetries)
	assert.Equal(t, 0, cfg.Pipeline.Retry.MaxRetries)
	assert.Equal(t, 0, cfg.Store.ItemRetries)

	cfg, err = Parse([]byte("database:\n  url: postgres://u:p@localhost/db\n"), false)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Pipeline.Retry.MaxRetries)
	assert.Equal(t, 2, cfg.Store.ItemRetries)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing database url":      "log:\n  level: info\n",
		"unknown store backend":     "database:\n  url: x\nstore:\n  backend: s3\n",
		"openai without key":        "database:\n  url: x\nembedding:\n  provider: openai\n",
		"redis store without redis": "database:\n  url: x\nstore:\n  backend: redis\n",
		"lock without redis":        "database:\n  url: x\npipeline:\n  document_lock: true\n",
		"bad log level":             "database:\n  url: x\nlog:\n  level: loud\n",
	}
	t.Setenv("DATABASE_URL", "")
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw), false)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  url: postgres://localhost/db\nstore:\n  backend: memory\n"), 0o600))

	cfg, err := LoadConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"), false)
	assert.Error(t, err)
}

func TestDatabaseURLFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	cfg, err := Parse([]byte("store:\n  backend: memory\n"), false)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
}
