// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/services"
)

// Service periodically enforces retention policies:
//   - Removes terminal runs past their retention window
//   - Removes LLM trace rows past their retention window
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config *config.RetentionConfig
	runs   *services.RunService
	traces *services.TraceService

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, runs *services.RunService, traces *services.TraceService) *Service {
	return &Service{
		config: cfg,
		runs:   runs,
		traces: traces,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"run_retention", s.config.RunRetention,
		"trace_retention", s.config.TraceRetention,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeOldRuns(ctx)
	s.purgeOldTraces(ctx)
}

func (s *Service) purgeOldRuns(ctx context.Context) {
	count, err := s.runs.PurgeOldRuns(ctx, s.config.RunRetention)
	if err != nil {
		slog.Error("Retention: run purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged old runs", "count", count)
	}
}

func (s *Service) purgeOldTraces(ctx context.Context) {
	count, err := s.traces.PurgeOldTraces(ctx, s.config.TraceRetention)
	if err != nil {
		slog.Error("Retention: trace purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged old llm traces", "count", count)
	}
}
