// Maestro agent runtime — serves the SSE chat API, runs the queue
// worker pool, and drives agent runs end to end.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/maestro-ai/maestro/pkg/agent"
	"github.com/maestro-ai/maestro/pkg/api"
	"github.com/maestro-ai/maestro/pkg/cleanup"
	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/database"
	"github.com/maestro-ai/maestro/pkg/llm"
	"github.com/maestro-ai/maestro/pkg/masking"
	"github.com/maestro-ai/maestro/pkg/queue"
	"github.com/maestro-ai/maestro/pkg/retrieval"
	"github.com/maestro-ai/maestro/pkg/services"
	"github.com/maestro-ai/maestro/pkg/slack"
	"github.com/maestro-ai/maestro/pkg/stream"
	"github.com/maestro-ai/maestro/pkg/tools"
	"github.com/maestro-ai/maestro/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica
// coordination. Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	podID := resolvePodID()

	slog.Info("Starting maestro", "version", version.Full(), "http_port", httpPort, "pod_id", podID)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (runs migrations on startup)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Event stream fabric (Redis streams)
	redisClient, err := stream.NewRedisClient(ctx, cfg.Stream.RedisAddr, cfg.Stream.RedisPassword)
	if err != nil {
		slog.Error("Failed to connect to Redis", "addr", cfg.Stream.RedisAddr, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	eventLog := stream.NewRedisLog(redisClient)
	slog.Info("Connected to Redis", "addr", cfg.Stream.RedisAddr)

	// 4. Domain services over PostgreSQL stores
	db := dbClient.DB()
	svcs := queue.Services{
		Runs:       services.NewRunService(services.NewPgRunStore(db)),
		Assistants: services.NewAssistantService(services.NewPgAssistantStore(db)),
		Messages:   services.NewMessageService(services.NewPgMessageStore(db)),
		Usage:      services.NewUsageService(services.NewPgUsageStore(db)),
		Traces:     services.NewTraceService(services.NewPgTraceStore(db), slog.Default()),
		Audit:      services.NewAuditService(services.NewPgAuditStore(db), slog.Default()),
	}
	slog.Info("Services initialized")

	// 5. LLM client, retrieval, and tool catalog
	llmClient := llm.NewOpenAIClient(cfg.LLM)
	searcher := retrieval.NewHTTPSearcher(cfg.Retrieval.BaseURL, cfg.Retrieval.APIKey)
	delegator := tools.NewDelegator(svcs.Assistants, searcher, llmClient)

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, tools.BuiltinDeps{
		Searcher:   searcher,
		Web:        retrieval.NewWebClient(cfg.WebSearch),
		WebEnabled: cfg.WebSearch.Enabled,
		WebTopK:    cfg.WebSearch.TopK,
		Delegator:  delegator,
	}); err != nil {
		slog.Error("Failed to register tool catalog", "error", err)
		os.Exit(1)
	}
	registry.Seal()
	slog.Info("Tool catalog sealed", "llm_model", cfg.LLM.Model, "web_search", cfg.WebSearch.Enabled)

	// 6. Agent runner and worker pool
	planner := agent.NewPlanner(llmClient)
	dispatcher := tools.NewDispatcher(registry).WithMasker(masking.New())
	loop := agent.NewLoop(llmClient, dispatcher, searcher, cfg.LLM.MaxTokens)
	runner := queue.NewRunner(svcs, registry, planner, loop, eventLog, cfg.Stream, cfg.LLM, cfg.HistoryMessages)
	if notifier := slack.NewService(slack.ServiceConfig{
		Token:        os.Getenv("SLACK_TOKEN"),
		Channel:      os.Getenv("SLACK_CHANNEL"),
		DashboardURL: getEnv("DASHBOARD_URL", "http://localhost:3000"),
	}); notifier != nil {
		runner.WithNotifier(notifier)
		slog.Info("Slack run-failure notifications enabled")
	}
	abort := queue.NewAbortHandler(svcs.Runs, eventLog, cfg.Stream)
	watchdog := queue.NewWatchdog(svcs.Runs, eventLog, cfg.Queue, cfg.Stream)

	workerPool := queue.NewWorkerPool(podID, cfg.Queue, runner, abort, watchdog)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// Background retention cleanup
	cleanupService := cleanup.NewService(cfg.Retention, svcs.Runs, svcs.Traces)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// 7. HTTP server
	server := api.NewServer(svcs.Runs, svcs.Messages, eventLog, cfg.Stream).
		WithDB(db).
		WithPool(workerPool)
	httpServer := &http.Server{
		Addr:    ":" + httpPort,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Maestro started successfully", "pod_id", podID, "workers", cfg.Queue.WorkerCount)

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: drain workers first so active runs finish,
	// then close the HTTP listener.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded — interrupted runs will be recovered by the watchdog")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
