package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/services"
	"github.com/maestro-ai/maestro/pkg/stream"
)

// AbortHandler drives aborted jobs to a terminal state. Called by the
// worker on shutdown and run timeout.
type AbortHandler struct {
	runs      *services.RunService
	log       stream.EventLog
	streamCfg *config.StreamConfig
}

// NewAbortHandler creates the abort hook.
func NewAbortHandler(runs *services.RunService, log stream.EventLog, streamCfg *config.StreamConfig) *AbortHandler {
	return &AbortHandler{runs: runs, log: log, streamCfg: streamCfg}
}

// OnAgentJobAbort marks the run ABORTED and emits an error event. Safe
// to call on a run already in a terminal state: the first terminal
// status wins and no duplicate event is appended.
func (h *AbortHandler) OnAgentJobAbort(runID uuid.UUID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := slog.Default().With("run_id", runID)

	run, err := h.runs.GetRunByID(ctx, runID)
	if err != nil {
		logger.Error("Abort hook could not load run", "error", err)
		return
	}
	if run.Status.IsTerminal() {
		logger.Info("Abort hook: run already terminal", "status", run.Status)
		return
	}

	if err := h.runs.FailRun(ctx, runID, ErrCodeWorkerAborted, reason, models.RunStatusAborted); err != nil {
		logger.Error("Abort hook failed to mark run aborted", "error", err)
	}

	pub := stream.NewPublisher(h.log, runID.String(), h.streamCfg)
	if err := pub.Error(ctx, ErrCodeWorkerAborted, reason); err != nil {
		logger.Error("Abort hook failed to emit error event", "error", err)
	}
	logger.Warn("Run aborted", "reason", reason)
}
