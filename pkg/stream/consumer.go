package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maestro-ai/maestro/pkg/config"
)

// Event is one decoded log entry as seen by a consumer.
type Event struct {
	// ID is the log position, used to resume after a disconnect.
	ID string

	// Seq is the publisher-assigned sequence number. Synthetic events
	// injected by the consumer carry HeartbeatSeq.
	Seq string

	Type string
	TS   time.Time
	Data json.RawMessage
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Consumer tails a run's event log. It injects synthetic heartbeat
// events during silence and a synthetic error after the hard timeout,
// so a subscriber can treat the channel as the complete session.
type Consumer struct {
	log    EventLog
	key    string
	fromID string

	readBlock   time.Duration
	heartbeat   time.Duration
	hardTimeout time.Duration
}

// NewConsumer opens a consumer at fromID. An empty fromID starts from
// the beginning of the log; pass the last seen Event.ID to resume.
func NewConsumer(log EventLog, runID, fromID string, cfg *config.StreamConfig) *Consumer {
	if fromID == "" {
		fromID = "0-0"
	}
	return &Consumer{
		log:         log,
		key:         StreamKey(runID),
		fromID:      fromID,
		readBlock:   cfg.ReadBlock,
		heartbeat:   cfg.HeartbeatInterval,
		hardTimeout: cfg.HardTimeout,
	}
}

// Consume tails the log until a terminal event, the hard timeout, or
// context cancellation. The returned channel is closed when the session
// ends.
func (c *Consumer) Consume(ctx context.Context) <-chan Event {
	out := make(chan Event)
	go c.run(ctx, out)
	return out
}

func (c *Consumer) run(ctx context.Context, out chan<- Event) {
	defer close(out)

	start := time.Now()
	lastActivity := start
	lastID := c.fromID

	for {
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) >= c.hardTimeout {
			c.send(ctx, out, syntheticError("hard_timeout",
				fmt.Sprintf("No terminal event after %s", c.hardTimeout)))
			return
		}

		records, err := c.log.Read(ctx, c.key, lastID, c.readBlock, 100)
		if err != nil {
			c.send(ctx, out, syntheticError("stream_read_failed", err.Error()))
			return
		}

		if len(records) == 0 {
			if time.Since(lastActivity) >= c.heartbeat {
				if !c.send(ctx, out, syntheticHeartbeat()) {
					return
				}
				lastActivity = time.Now()
			}
			continue
		}

		for _, rec := range records {
			lastID = rec.ID
			lastActivity = time.Now()
			if !c.send(ctx, out, decodeRecord(rec)) {
				return
			}
			if rec.Values["type"] == EventDone || rec.Values["type"] == EventError {
				return
			}
		}
	}
}

func (c *Consumer) send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func decodeRecord(rec Record) Event {
	ev := Event{
		ID:   rec.ID,
		Seq:  rec.Values["seq"],
		Type: rec.Values["type"],
		Data: json.RawMessage(rec.Values["data"]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, rec.Values["ts"]); err == nil {
		ev.TS = ts
	}
	return ev
}

func syntheticHeartbeat() Event {
	data, _ := json.Marshal(map[string]string{"status": "heartbeat"})
	return Event{Seq: HeartbeatSeq, Type: EventStatus, TS: time.Now().UTC(), Data: data}
}

func syntheticError(code, message string) Event {
	data, _ := json.Marshal(map[string]string{"code": code, "message": message})
	return Event{Seq: HeartbeatSeq, Type: EventError, TS: time.Now().UTC(), Data: data}
}
