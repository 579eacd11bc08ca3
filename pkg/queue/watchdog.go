package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/services"
	"github.com/maestro-ai/maestro/pkg/stream"
)

// Watchdog is the ultimate deadline for runs: it periodically fails
// RUNNING runs whose started_at is older than the stuck threshold, so a
// crashed worker can never leave a run non-terminal forever.
type Watchdog struct {
	runs      *services.RunService
	log       stream.EventLog
	queueCfg  *config.QueueConfig
	streamCfg *config.StreamConfig

	mu          sync.Mutex
	lastScan    time.Time
	totalFailed int
}

// NewWatchdog creates a watchdog.
func NewWatchdog(runs *services.RunService, log stream.EventLog, queueCfg *config.QueueConfig, streamCfg *config.StreamConfig) *Watchdog {
	return &Watchdog{runs: runs, log: log, queueCfg: queueCfg, streamCfg: streamCfg}
}

// Run scans on the configured interval until the context or stop channel
// closes. The first scan happens immediately, which doubles as startup
// orphan cleanup after a crash.
func (w *Watchdog) Run(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(w.queueCfg.WatchdogInterval)
	defer ticker.Stop()

	w.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			w.Scan(ctx)
		}
	}
}

// Scan fails every stuck run it finds and returns how many were failed.
func (w *Watchdog) Scan(ctx context.Context) int {
	stuck, err := w.runs.FindStuckRuns(ctx, w.queueCfg.StuckRunThreshold)
	if err != nil {
		slog.Error("Watchdog scan failed", "error", err)
		return 0
	}

	failed := 0
	for _, run := range stuck {
		message := fmt.Sprintf("run exceeded stuck threshold of %s", w.queueCfg.StuckRunThreshold)
		if err := w.runs.FailRun(ctx, run.ID, ErrCodeWatchdogTimeout, message, models.RunStatusTimeout); err != nil {
			slog.Error("Watchdog failed to time out run", "run_id", run.ID, "error", err)
			continue
		}
		pub := stream.NewPublisher(w.log, run.ID.String(), w.streamCfg)
		if err := pub.Error(ctx, ErrCodeWatchdogTimeout, message); err != nil {
			slog.Error("Watchdog failed to emit error event", "run_id", run.ID, "error", err)
		}
		slog.Warn("Watchdog timed out stuck run",
			"run_id", run.ID, "started_at", run.StartedAt)
		failed++
	}

	w.mu.Lock()
	w.lastScan = time.Now()
	w.totalFailed += failed
	w.mu.Unlock()
	return failed
}

// Stats returns the last scan time and the total runs failed so far.
func (w *Watchdog) Stats() (time.Time, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastScan, w.totalFailed
}
