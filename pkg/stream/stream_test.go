package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-ai/maestro/pkg/config"
)

func testStreamConfig() *config.StreamConfig {
	cfg := config.DefaultStreamConfig()
	cfg.ReadBlock = 10 * time.Millisecond
	cfg.HeartbeatInterval = 40 * time.Millisecond
	cfg.HardTimeout = 400 * time.Millisecond
	return cfg
}

func collect(t *testing.T, ch <-chan Event, max int) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
			if len(out) >= max {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d", len(out))
		}
	}
}

func TestPublisher_SequenceAndFields(t *testing.T) {
	log := NewMemoryLog()
	pub := NewPublisher(log, "run-1", testStreamConfig())
	ctx := context.Background()

	require.NoError(t, pub.Status(ctx, "analyzing"))
	require.NoError(t, pub.Token(ctx, "Bonjour"))
	require.NoError(t, pub.Done(ctx, DoneData{TokensInput: 10, TokensOutput: 5}))

	records := log.Records(StreamKey("run-1"))
	require.Len(t, records, 3)
	assert.Equal(t, "1", records[0].Values["seq"])
	assert.Equal(t, "2", records[1].Values["seq"])
	assert.Equal(t, "3", records[2].Values["seq"])
	assert.Equal(t, EventStatus, records[0].Values["type"])
	assert.Equal(t, EventToken, records[1].Values["type"])
	assert.Equal(t, EventDone, records[2].Values["type"])
	assert.NotEmpty(t, records[0].Values["ts"])

	var done DoneData
	require.NoError(t, json.Unmarshal([]byte(records[2].Values["data"]), &done))
	assert.Equal(t, 10, done.TokensInput)
}

func TestPublisher_EmptyTokenSkipped(t *testing.T) {
	log := NewMemoryLog()
	pub := NewPublisher(log, "run-1", testStreamConfig())

	require.NoError(t, pub.Token(context.Background(), ""))
	assert.Equal(t, 0, log.Len(StreamKey("run-1")))
	assert.Equal(t, int64(0), pub.Seq())
}

func TestPublisher_TTLRefreshCadence(t *testing.T) {
	log := NewMemoryLog()
	pub := NewPublisher(log, "run-1", testStreamConfig())
	ctx := context.Background()

	// The very first append bounds the key with a TTL
	require.NoError(t, pub.Status(ctx, "analyzing"))
	assert.Equal(t, 1, log.ExpireCalls(StreamKey("run-1")))

	for i := 0; i < 24; i++ {
		require.NoError(t, pub.Status(ctx, "analyzing"))
	}
	// Refreshed at appends 10 and 20
	assert.Equal(t, 3, log.ExpireCalls(StreamKey("run-1")))

	require.NoError(t, pub.Done(ctx, DoneData{}))
	// Terminal events always refresh
	assert.Equal(t, 4, log.ExpireCalls(StreamKey("run-1")))
}

func TestConsumer_ReadsUntilTerminal(t *testing.T) {
	log := NewMemoryLog()
	cfg := testStreamConfig()
	pub := NewPublisher(log, "run-1", cfg)
	ctx := context.Background()

	require.NoError(t, pub.Status(ctx, "analyzing"))
	require.NoError(t, pub.Token(ctx, "Hello"))
	require.NoError(t, pub.Done(ctx, DoneData{ToolRounds: 1}))

	events := collect(t, NewConsumer(log, "run-1", "", cfg).Consume(ctx), 10)
	require.Len(t, events, 3)
	assert.Equal(t, EventStatus, events[0].Type)
	assert.Equal(t, EventToken, events[1].Type)
	assert.True(t, events[2].Terminal())
	assert.Equal(t, "3", events[2].Seq)
}

func TestConsumer_ResumeFromLastID(t *testing.T) {
	log := NewMemoryLog()
	cfg := testStreamConfig()
	pub := NewPublisher(log, "run-1", cfg)
	ctx := context.Background()

	require.NoError(t, pub.Status(ctx, "analyzing"))
	require.NoError(t, pub.Token(ctx, "part one"))

	first := collect(t, NewConsumer(log, "run-1", "", cfg).Consume(ctx), 2)
	require.Len(t, first, 2)
	resumeID := first[1].ID

	require.NoError(t, pub.Token(ctx, "part two"))
	require.NoError(t, pub.Done(ctx, DoneData{}))

	// A reconnecting client passes the last seen ID and gets only what
	// it missed.
	rest := collect(t, NewConsumer(log, "run-1", resumeID, cfg).Consume(ctx), 10)
	require.Len(t, rest, 2)
	assert.Equal(t, "3", rest[0].Seq)
	assert.Equal(t, EventToken, rest[0].Type)
	assert.Equal(t, EventDone, rest[1].Type)
}

func TestConsumer_HeartbeatDuringSilence(t *testing.T) {
	log := NewMemoryLog()
	cfg := testStreamConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewConsumer(log, "run-1", "", cfg).Consume(ctx)

	select {
	case ev := <-ch:
		assert.Equal(t, HeartbeatSeq, ev.Seq)
		assert.Equal(t, EventStatus, ev.Type)
		assert.JSONEq(t, `{"status":"heartbeat"}`, string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("no heartbeat emitted during silence")
	}
}

func TestConsumer_HardTimeout(t *testing.T) {
	log := NewMemoryLog()
	cfg := testStreamConfig()
	cfg.HeartbeatInterval = time.Hour // isolate the hard timeout

	events := collect(t, NewConsumer(log, "run-1", "", cfg).Consume(context.Background()), 10)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, HeartbeatSeq, events[0].Seq)

	var data map[string]string
	require.NoError(t, json.Unmarshal(events[0].Data, &data))
	assert.Equal(t, "hard_timeout", data["code"])
}

func TestMemoryLog_MaxLenTrims(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		_, err := log.Append(ctx, "k", map[string]string{"n": "x"}, 10)
		require.NoError(t, err)
	}
	assert.Equal(t, 10, log.Len("k"))
}
