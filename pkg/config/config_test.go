package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Queue.WorkerCount)
	assert.Equal(t, 600*time.Second, cfg.Queue.StuckRunThreshold)
	assert.Equal(t, 600*time.Second, cfg.Stream.TTL)
	assert.Equal(t, int64(2000), cfg.Stream.MaxLen)
	assert.Equal(t, 15*time.Second, cfg.Stream.HeartbeatInterval)
	assert.Equal(t, 180*time.Second, cfg.Stream.HardTimeout)
	assert.Equal(t, 300*time.Millisecond, cfg.Stream.DeltaBatchInterval)
	assert.Equal(t, 10, cfg.HistoryMessages)
	assert.Equal(t, 5, cfg.WebSearch.TopK)
	assert.False(t, cfg.WebSearch.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGENT_STREAM_TTL", "120")
	t.Setenv("AGENT_STREAM_MAXLEN", "500")
	t.Setenv("AGENT_SSE_HARD_TIMEOUT", "30")
	t.Setenv("AGENT_DELTA_BATCH_MS", "100")
	t.Setenv("WORKER_COUNT", "2")
	t.Setenv("WEB_SEARCH_ENABLED", "true")
	t.Setenv("LLM_MODEL", "gpt-4o")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, cfg.Stream.TTL)
	assert.Equal(t, int64(500), cfg.Stream.MaxLen)
	assert.Equal(t, 30*time.Second, cfg.Stream.HardTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Stream.DeltaBatchInterval)
	assert.Equal(t, 2, cfg.Queue.WorkerCount)
	assert.True(t, cfg.WebSearch.Enabled)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Run("non-numeric falls back to default", func(t *testing.T) {
		t.Setenv("AGENT_STREAM_TTL", "not-a-number")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 600*time.Second, cfg.Stream.TTL)
	})

	t.Run("zero worker count rejected", func(t *testing.T) {
		t.Setenv("WORKER_COUNT", "0")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("zero maxlen rejected", func(t *testing.T) {
		t.Setenv("AGENT_STREAM_MAXLEN", "0")
		_, err := Load()
		assert.Error(t, err)
	})
}
