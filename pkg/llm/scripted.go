package llm

import (
	"context"
	"sync"
)

// ScriptedClient replays canned chunk sequences, one per Generate call,
// for tests. The zero value returns an empty stream for every call.
type ScriptedClient struct {
	mu        sync.Mutex
	responses [][]Chunk
	calls     []*GenerateInput
}

// NewScriptedClient creates a client that answers successive Generate
// calls with the given chunk sequences.
func NewScriptedClient(responses ...[]Chunk) *ScriptedClient {
	return &ScriptedClient{responses: responses}
}

// Generate pops the next scripted response and streams it.
func (c *ScriptedClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	c.mu.Lock()
	c.calls = append(c.calls, input)
	var script []Chunk
	if len(c.responses) > 0 {
		script = c.responses[0]
		c.responses = c.responses[1:]
	}
	c.mu.Unlock()

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		for _, chunk := range script {
			select {
			case <-ctx.Done():
				return
			case chunks <- chunk:
			}
		}
	}()
	return chunks, nil
}

// Calls returns the inputs of all Generate calls so far.
func (c *ScriptedClient) Calls() []*GenerateInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*GenerateInput, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns how many times Generate was invoked.
func (c *ScriptedClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}
