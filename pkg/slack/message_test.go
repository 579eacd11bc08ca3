package slack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goslack "github.com/slack-go/slack"
)

func sectionText(t *testing.T, block goslack.Block) string {
	t.Helper()
	section, ok := block.(*goslack.SectionBlock)
	require.True(t, ok, "expected section block")
	return section.Text.Text
}

func TestBuildRunFailedMessage(t *testing.T) {
	tests := []struct {
		name      string
		input     RunFailedInput
		wantParts []string
	}{
		{
			name: "failed with error message",
			input: RunFailedInput{
				RunID:         "3f1c9a2e",
				AssistantName: "Juridique",
				Status:        "failed",
				ErrorCode:     "worker_exception",
				ErrorMessage:  "panic: nil pointer",
			},
			wantParts: []string{":x:", "Run Failed", "Juridique", "worker_exception", "panic: nil pointer"},
		},
		{
			name: "timeout",
			input: RunFailedInput{
				RunID:         "3f1c9a2e",
				AssistantName: "Juridique",
				Status:        "timeout",
				ErrorCode:     "watchdog_timeout",
			},
			wantParts: []string{":hourglass:", "Run Timed Out", "watchdog_timeout"},
		},
		{
			name: "unknown status falls back",
			input: RunFailedInput{
				RunID:  "3f1c9a2e",
				Status: "mystery",
			},
			wantParts: []string{":question:", "Run mystery"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := BuildRunFailedMessage(tt.input, "https://dashboard.example.com")
			require.Len(t, blocks, 2)

			text := sectionText(t, blocks[0])
			for _, part := range tt.wantParts {
				assert.Contains(t, text, part)
			}

			action, ok := blocks[1].(*goslack.ActionBlock)
			require.True(t, ok)
			btn, ok := action.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
			require.True(t, ok)
			assert.Equal(t, "https://dashboard.example.com/runs/3f1c9a2e", btn.URL)
		})
	}
}

func TestTruncateForSlack(t *testing.T) {
	short := "all good"
	assert.Equal(t, short, truncateForSlack(short))

	long := strings.Repeat("x", maxBlockTextLength+100)
	got := truncateForSlack(long)
	assert.True(t, len(got) < len(long))
	assert.Contains(t, got, "truncated")
}
