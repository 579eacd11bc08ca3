package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var statusEmoji = map[string]string{
	"failed":  ":x:",
	"timeout": ":hourglass:",
	"aborted": ":no_entry_sign:",
}

var statusLabel = map[string]string{
	"failed":  "Run Failed",
	"timeout": "Run Timed Out",
	"aborted": "Run Aborted",
}

func runURL(runID, dashboardURL string) string {
	return fmt.Sprintf("%s/runs/%s", dashboardURL, runID)
}

// BuildRunFailedMessage creates Block Kit blocks for a run failure
// notification.
func BuildRunFailedMessage(input RunFailedInput, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[input.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[input.Status]
	if label == "" {
		label = "Run " + input.Status
	}

	headerText := fmt.Sprintf("%s *%s* — assistant `%s`, code `%s`", emoji, label, input.AssistantName, input.ErrorCode)
	if input.ErrorMessage != "" {
		headerText += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(input.ErrorMessage))
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
	}

	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, "View Run", false, false))
	btn.URL = runURL(input.RunID, dashboardURL)
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated — view full run in dashboard)_"
}
