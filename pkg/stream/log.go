// Package stream is the per-run event fabric: a durable append-only log
// with one writer (the worker) and any number of live consumers.
package stream

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Record is one stored event: the server-assigned position id plus the
// field map written by the publisher.
type Record struct {
	ID     string
	Values map[string]string
}

// EventLog is the abstract log store. A Redis Streams backend satisfies
// it in production; MemoryLog backs tests.
type EventLog interface {
	// Append adds a record under key with approximate maxlen trimming and
	// returns the server-assigned position id.
	Append(ctx context.Context, key string, values map[string]string, maxlen int64) (string, error)

	// Read returns records after fromID, blocking up to block when the
	// log has nothing new. A nil slice means the block timed out.
	Read(ctx context.Context, key, fromID string, block time.Duration, count int64) ([]Record, error)

	// Expire sets the key's TTL.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// StreamKey returns the log key for a run.
func StreamKey(runID string) string {
	return "agent:" + runID
}

// MemoryLog is an in-process EventLog for tests. Blocking reads are
// served with a condition variable broadcast on append.
type MemoryLog struct {
	mu      sync.Mutex
	cond    *sync.Cond
	streams map[string][]Record
	nextID  map[string]int64

	expireCalls map[string]int
	lastTTL     map[string]time.Duration
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	l := &MemoryLog{
		streams:     make(map[string][]Record),
		nextID:      make(map[string]int64),
		expireCalls: make(map[string]int),
		lastTTL:     make(map[string]time.Duration),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *MemoryLog) Append(_ context.Context, key string, values map[string]string, maxlen int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID[key]++
	id := fmt.Sprintf("%d-0", l.nextID[key])

	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	l.streams[key] = append(l.streams[key], Record{ID: id, Values: cp})
	if maxlen > 0 && int64(len(l.streams[key])) > maxlen {
		l.streams[key] = l.streams[key][int64(len(l.streams[key]))-maxlen:]
	}
	l.cond.Broadcast()
	return id, nil
}

func (l *MemoryLog) Read(ctx context.Context, key, fromID string, block time.Duration, count int64) ([]Record, error) {
	deadline := time.Now().Add(block)
	after := parseMemoryID(fromID)

	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		var out []Record
		for _, rec := range l.streams[key] {
			if parseMemoryID(rec.ID) > after {
				out = append(out, rec)
				if count > 0 && int64(len(out)) >= count {
					break
				}
			}
		}
		if len(out) > 0 {
			return out, nil
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return nil, nil
		}
		// Wake periodically so the deadline is honored even without
		// appends.
		waiter := time.AfterFunc(10*time.Millisecond, l.cond.Broadcast)
		l.cond.Wait()
		waiter.Stop()
	}
}

func (l *MemoryLog) Expire(_ context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expireCalls[key]++
	l.lastTTL[key] = ttl
	return nil
}

// ExpireCalls returns how many times the key's TTL was set.
func (l *MemoryLog) ExpireCalls(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expireCalls[key]
}

// Len returns the stored record count for a key.
func (l *MemoryLog) Len(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.streams[key])
}

// Records returns a copy of the stored records for a key.
func (l *MemoryLog) Records(key string) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.streams[key]))
	copy(out, l.streams[key])
	return out
}

func parseMemoryID(id string) int64 {
	if id == "" || id == "0-0" || id == "0" || id == "$" {
		return 0
	}
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			id = id[:i]
			break
		}
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
