// Package queue is the worker runtime: a pool of goroutines that claim
// pending runs, execute them to a guaranteed terminal status, and a
// watchdog that reaps runs stuck in RUNNING.
package queue

import (
	"time"

	"github.com/maestro-ai/maestro/pkg/services"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is a snapshot of one worker's state.
type WorkerHealth struct {
	ID            string       `json:"id"`
	Status        WorkerStatus `json:"status"`
	CurrentRunID  string       `json:"current_run_id,omitempty"`
	RunsProcessed int          `json:"runs_processed"`
	LastActivity  time.Time    `json:"last_activity"`
}

// PoolHealth is the aggregate health of the worker pool.
type PoolHealth struct {
	IsHealthy       bool           `json:"is_healthy"`
	PodID           string         `json:"pod_id"`
	ActiveWorkers   int            `json:"active_workers"`
	TotalWorkers    int            `json:"total_workers"`
	WorkerStats     []WorkerHealth `json:"worker_stats"`
	LastWatchdogRun time.Time      `json:"last_watchdog_run,omitempty"`
	StuckRunsFailed int            `json:"stuck_runs_failed"`
}

// Services bundles the persistence services the runtime depends on.
type Services struct {
	Runs       *services.RunService
	Assistants *services.AssistantService
	Messages   *services.MessageService
	Usage      *services.UsageService
	Traces     *services.TraceService
	Audit      *services.AuditService
}
