package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/models"
)

// Wire event types. Each run's log holds an ordered sequence of these;
// done and error are terminal.
const (
	EventStatus    = "status"
	EventToken     = "token"
	EventPlan      = "plan"
	EventTool      = "tool"
	EventBlock     = "block"
	EventCitations = "citations"
	EventDone      = "done"
	EventError     = "error"
)

// HeartbeatSeq marks synthetic events injected by the consumer. Real
// events carry positive sequence numbers starting at 1.
const HeartbeatSeq = "-1"

// Publisher is the single writer of a run's event log. It assigns
// monotonically increasing sequence numbers and sets the log TTL on the
// first append, refreshing it on every 10th append and on terminal
// events.
type Publisher struct {
	log    EventLog
	key    string
	ttl    time.Duration
	maxlen int64

	seq     int64
	appends int64
	logger  *slog.Logger
}

// NewPublisher opens the publisher side of a run's event log.
func NewPublisher(log EventLog, runID string, cfg *config.StreamConfig) *Publisher {
	return &Publisher{
		log:    log,
		key:    StreamKey(runID),
		ttl:    cfg.TTL,
		maxlen: cfg.MaxLen,
		logger: slog.Default().With("run_id", runID),
	}
}

// Seq returns the sequence number of the last emitted event.
func (p *Publisher) Seq() int64 {
	return p.seq
}

// Status emits a status transition (analyzing, searching, delegating, …).
func (p *Publisher) Status(ctx context.Context, status string) error {
	return p.emit(ctx, EventStatus, map[string]any{"status": status})
}

// Token emits a batch of accumulated response text.
func (p *Publisher) Token(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return p.emit(ctx, EventToken, map[string]any{"text": text})
}

// Plan emits the execution plan chosen for the run.
func (p *Publisher) Plan(ctx context.Context, plan *models.Plan) error {
	return p.emit(ctx, EventPlan, plan)
}

// Tool emits a tool lifecycle event: phase is "calling", "completed" or
// "failed".
func (p *Publisher) Tool(ctx context.Context, tool, phase string, detail map[string]any) error {
	data := map[string]any{"tool": tool, "phase": phase}
	for k, v := range detail {
		data[k] = v
	}
	return p.emit(ctx, EventTool, data)
}

// Block emits a structured UI block.
func (p *Publisher) Block(ctx context.Context, block *models.Block) error {
	return p.emit(ctx, EventBlock, block)
}

// Citations emits the cumulative citation list gathered so far.
func (p *Publisher) Citations(ctx context.Context, citations []models.Citation) error {
	return p.emit(ctx, EventCitations, map[string]any{"citations": citations})
}

// DoneData is the payload of the terminal done event.
type DoneData struct {
	TokensInput    int `json:"tokens_input"`
	TokensOutput   int `json:"tokens_output"`
	ToolRounds     int `json:"tool_rounds"`
	BlocksCount    int `json:"blocks_count"`
	CitationsCount int `json:"citations_count"`
}

// Done emits the terminal success event.
func (p *Publisher) Done(ctx context.Context, data DoneData) error {
	return p.emit(ctx, EventDone, data)
}

// Error emits the terminal failure event.
func (p *Publisher) Error(ctx context.Context, code, message string) error {
	return p.emit(ctx, EventError, map[string]any{"code": code, "message": message})
}

func (p *Publisher) emit(ctx context.Context, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}

	p.seq++
	values := map[string]string{
		"seq":  strconv.FormatInt(p.seq, 10),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339Nano),
		"data": string(payload),
	}
	if _, err := p.log.Append(ctx, p.key, values, p.maxlen); err != nil {
		p.seq--
		return err
	}

	p.appends++
	// The first append sets the TTL immediately so the key is never
	// unbounded, even if the run dies before the first refresh.
	if p.appends == 1 || p.appends%10 == 0 || eventType == EventDone || eventType == EventError {
		if err := p.log.Expire(ctx, p.key, p.ttl); err != nil {
			p.logger.Warn("Failed to refresh event log TTL", "error", err)
		}
	}
	return nil
}
