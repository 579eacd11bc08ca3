// Package config holds the runtime configuration, loaded from environment
// variables with built-in defaults. A .env file (loaded by the caller via
// godotenv) feeds the same variables in development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config aggregates all runtime configuration.
type Config struct {
	Queue     *QueueConfig
	Stream    *StreamConfig
	LLM       *LLMConfig
	WebSearch *WebSearchConfig
	Retrieval *RetrievalConfig
	Retention *RetentionConfig

	// HistoryMessages is the number of prior conversation messages loaded
	// into the loop's context.
	HistoryMessages int
}

// QueueConfig contains worker pool and watchdog configuration.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	WorkerCount int

	// PollInterval is the base interval for checking pending runs.
	PollInterval time.Duration

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration

	// RunTimeout is the maximum wall time a run may be processed.
	RunTimeout time.Duration

	// GracefulShutdownTimeout is the max time to wait for active runs to
	// complete during shutdown.
	GracefulShutdownTimeout time.Duration

	// StuckRunThreshold is how long a run may stay RUNNING before the
	// watchdog forces it to a terminal state.
	StuckRunThreshold time.Duration

	// WatchdogInterval is how often the watchdog scans for stuck runs.
	WatchdogInterval time.Duration
}

// StreamConfig contains event stream fabric configuration.
type StreamConfig struct {
	// RedisAddr is the address of the Redis backing the event log.
	RedisAddr string

	// RedisPassword is optional.
	RedisPassword string

	// TTL is the per-run event log time-to-live.
	TTL time.Duration

	// MaxLen is the approximate trim length of a run's event log.
	MaxLen int64

	// HeartbeatInterval is the SSE consumer heartbeat interval.
	HeartbeatInterval time.Duration

	// HardTimeout is the SSE consumer deadline.
	HardTimeout time.Duration

	// DeltaBatchInterval bounds how often buffered token deltas flush.
	DeltaBatchInterval time.Duration

	// ReadBlock is the single blocking-read timeout of the consumer.
	ReadBlock time.Duration
}

// LLMConfig contains LLM transport configuration.
type LLMConfig struct {
	// BaseURL points at an OpenAI-compatible chat-completions endpoint.
	// Empty means the provider default.
	BaseURL string

	// APIKey authenticates against the endpoint.
	APIKey string

	// Model is the chat model identifier.
	Model string

	// Provider names the upstream provider for trace records.
	Provider string

	// MaxTokens caps each completion. Zero means provider default.
	MaxTokens int
}

// WebSearchConfig contains web search tool configuration.
type WebSearchConfig struct {
	Enabled  bool
	Provider string
	APIKey   string
	TopK     int
	CacheTTL time.Duration
}

// RetrievalConfig points at the hybrid search service.
type RetrievalConfig struct {
	BaseURL string
	APIKey  string
}

// RetentionConfig controls the background retention cleanup.
type RetentionConfig struct {
	// RunRetention is how long terminal runs are kept.
	RunRetention time.Duration

	// TraceRetention is how long LLM trace rows are kept.
	TraceRetention time.Duration

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration
}

// Load reads the full configuration from the environment.
func Load() (*Config, error) {
	queue, err := loadQueueConfig()
	if err != nil {
		return nil, err
	}
	stream, err := loadStreamConfig()
	if err != nil {
		return nil, err
	}
	return &Config{
		Queue:           queue,
		Stream:          stream,
		LLM:             loadLLMConfig(),
		WebSearch:       loadWebSearchConfig(),
		Retrieval:       loadRetrievalConfig(),
		Retention:       loadRetentionConfig(),
		HistoryMessages: getEnvInt("AGENT_HISTORY_MESSAGES", 10),
	}, nil
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		RunTimeout:              10 * time.Minute,
		GracefulShutdownTimeout: 10 * time.Minute,
		StuckRunThreshold:       600 * time.Second,
		WatchdogInterval:        60 * time.Second,
	}
}

// DefaultStreamConfig returns the built-in stream defaults.
func DefaultStreamConfig() *StreamConfig {
	return &StreamConfig{
		RedisAddr:          "localhost:6379",
		TTL:                600 * time.Second,
		MaxLen:             2000,
		HeartbeatInterval:  15 * time.Second,
		HardTimeout:        180 * time.Second,
		DeltaBatchInterval: 300 * time.Millisecond,
		ReadBlock:          500 * time.Millisecond,
	}
}

func loadQueueConfig() (*QueueConfig, error) {
	cfg := DefaultQueueConfig()
	cfg.WorkerCount = getEnvInt("WORKER_COUNT", cfg.WorkerCount)
	if cfg.WorkerCount <= 0 {
		return nil, fmt.Errorf("WORKER_COUNT must be positive, got %d", cfg.WorkerCount)
	}
	cfg.RunTimeout = getEnvSeconds("AGENT_RUN_TIMEOUT", cfg.RunTimeout)
	cfg.GracefulShutdownTimeout = cfg.RunTimeout
	cfg.StuckRunThreshold = getEnvSeconds("AGENT_STUCK_RUN_THRESHOLD", cfg.StuckRunThreshold)
	cfg.WatchdogInterval = getEnvSeconds("AGENT_WATCHDOG_INTERVAL", cfg.WatchdogInterval)
	return cfg, nil
}

func loadStreamConfig() (*StreamConfig, error) {
	cfg := DefaultStreamConfig()
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.TTL = getEnvSeconds("AGENT_STREAM_TTL", cfg.TTL)
	cfg.MaxLen = int64(getEnvInt("AGENT_STREAM_MAXLEN", int(cfg.MaxLen)))
	if cfg.MaxLen <= 0 {
		return nil, fmt.Errorf("AGENT_STREAM_MAXLEN must be positive, got %d", cfg.MaxLen)
	}
	cfg.HeartbeatInterval = getEnvSeconds("AGENT_SSE_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.HardTimeout = getEnvSeconds("AGENT_SSE_HARD_TIMEOUT", cfg.HardTimeout)
	cfg.DeltaBatchInterval = getEnvMillis("AGENT_DELTA_BATCH_MS", cfg.DeltaBatchInterval)
	return cfg, nil
}

func loadLLMConfig() *LLMConfig {
	return &LLMConfig{
		BaseURL:   os.Getenv("LLM_BASE_URL"),
		APIKey:    os.Getenv("LLM_API_KEY"),
		Model:     getEnv("LLM_MODEL", "gpt-4o-mini"),
		Provider:  getEnv("LLM_PROVIDER", "openai"),
		MaxTokens: getEnvInt("LLM_MAX_TOKENS", 0),
	}
}

func loadWebSearchConfig() *WebSearchConfig {
	return &WebSearchConfig{
		Enabled:  getEnvBool("WEB_SEARCH_ENABLED", false),
		Provider: getEnv("WEB_SEARCH_PROVIDER", "tavily"),
		APIKey:   os.Getenv("WEB_SEARCH_API_KEY"),
		TopK:     getEnvInt("WEB_SEARCH_TOPK", 5),
		CacheTTL: time.Duration(getEnvInt("WEB_CACHE_TTL_HOURS", 24)) * time.Hour,
	}
}

func loadRetrievalConfig() *RetrievalConfig {
	return &RetrievalConfig{
		BaseURL: getEnv("RETRIEVAL_SERVICE_URL", "http://localhost:8090"),
		APIKey:  os.Getenv("RETRIEVAL_API_KEY"),
	}
}

func loadRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RunRetention:    time.Duration(getEnvInt("RETENTION_RUN_DAYS", 90)) * 24 * time.Hour,
		TraceRetention:  time.Duration(getEnvInt("RETENTION_TRACE_DAYS", 30)) * 24 * time.Hour,
		CleanupInterval: getEnvSeconds("RETENTION_CLEANUP_INTERVAL", 6*time.Hour),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvSeconds(key string, defaultVal time.Duration) time.Duration {
	if n := getEnvInt(key, -1); n >= 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func getEnvMillis(key string, defaultVal time.Duration) time.Duration {
	if n := getEnvInt(key, -1); n >= 0 {
		return time.Duration(n) * time.Millisecond
	}
	return defaultVal
}
