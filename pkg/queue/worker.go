package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/config"
)

// RunRegistry is the subset of WorkerPool used by Worker for run
// registration.
type RunRegistry interface {
	RegisterRun(runID string, cancel context.CancelFunc)
	UnregisterRun(runID string)
}

// Worker is a single queue worker that polls for and processes runs.
type Worker struct {
	id       string
	podID    string
	config   *config.QueueConfig
	runner   *Runner
	abort    *AbortHandler
	pool     RunRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        WorkerStatus
	currentRunID  string
	runsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a queue worker.
func NewWorker(id, podID string, cfg *config.QueueConfig, runner *Runner, abort *AbortHandler, pool RunRegistry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		config:       cfg,
		runner:       runner,
		abort:        abort,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its
// current run. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentRunID:  w.currentRunID,
		RunsProcessed: w.runsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			claimed, err := w.pollAndProcess(ctx)
			if err != nil {
				log.Error("Error processing run", "error", err)
				w.sleep(time.Second)
				continue
			}
			if !claimed {
				w.sleep(w.pollInterval())
			}
		}
	}
}

// pollAndProcess claims the next pending run and executes it. Returns
// whether a run was claimed.
func (w *Worker) pollAndProcess(ctx context.Context) (bool, error) {
	run, err := w.runner.services.Runs.ClaimNextPendingRun(ctx)
	if err != nil {
		return false, err
	}
	if run == nil {
		return false, nil
	}

	log := slog.With("run_id", run.ID, "worker_id", w.id)
	log.Info("Run claimed")

	w.setStatus(WorkerStatusWorking, run.ID.String())
	defer w.setStatus(WorkerStatusIdle, "")

	runCtx, cancel := context.WithTimeout(ctx, w.config.RunTimeout)
	defer cancel()

	w.pool.RegisterRun(run.ID.String(), cancel)
	defer w.pool.UnregisterRun(run.ID.String())

	w.runner.RunAgent(runCtx, run.ID)

	// A cancelled or timed-out context means the runner may not have
	// reached a terminal state on its own; the abort hook guarantees one.
	if runCtx.Err() != nil {
		w.abort.OnAgentJobAbort(run.ID, runCtx.Err().Error())
	}

	w.mu.Lock()
	w.runsProcessed++
	w.mu.Unlock()

	log.Info("Run processing complete")
	return true, nil
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the poll duration with jitter so workers do not
// hammer the queue in lockstep.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentRunID = runID
	w.lastActivity = time.Now()
}

// workerID builds a stable worker identifier.
func workerID(podID string, n int) string {
	if podID == "" {
		podID = uuid.NewString()[:8]
	}
	return fmt.Sprintf("%s-worker-%d", podID, n)
}
