package slack

import (
	"context"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// RunFailedInput contains data for a run failure notification.
type RunFailedInput struct {
	RunID         string
	AssistantName string
	Status        string // failed, timeout, aborted
	ErrorCode     string
	ErrorMessage  string
}

// Service handles Slack notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NotifyRunFailed sends a run failure notification.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyRunFailed(ctx context.Context, input RunFailedInput) {
	if s == nil {
		return
	}

	blocks := BuildRunFailedMessage(input, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, 10*time.Second); err != nil {
		s.logger.Error("Failed to send Slack notification",
			"run_id", input.RunID,
			"status", input.Status,
			"error", err)
	}
}
