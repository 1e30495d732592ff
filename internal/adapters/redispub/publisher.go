// Package redispub publishes run lifecycle events over Redis pub/sub.
package redispub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jobradar/ingest-api/internal/core"
)

// Channel is the pub/sub channel carrying run lifecycle events. Subscribers
// treat events as wake-up hints and re-poll the runs listing with a since
// cursor; delivery is not guaranteed.
const Channel = "runs:updates"

// Publisher implements core.RunEventPublisher over Redis pub/sub.
type Publisher struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewPublisher creates a new Publisher with the given Redis client.
func NewPublisher(client redis.UniversalClient, logger *slog.Logger) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if logger != nil {
		logger = logger.With("component", "run_event_publisher")
	}
	return &Publisher{client: client, logger: logger}, nil
}

// PublishRunEvent pushes one run event onto the channel.
func (p *Publisher) PublishRunEvent(ctx context.Context, event core.RunEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode run event: %w", err)
	}
	if err := p.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish run event: %w", err)
	}
	if p.logger != nil {
		p.logger.DebugContext(ctx, "published run event",
			"run_id", event.RunID, "status", event.Status)
	}
	return nil
}
