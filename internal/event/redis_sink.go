package event

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailblast/internal/pkg/logger"
)

// Channel is the Redis pub/sub channel lifecycle events are mirrored to, so
// external consumers (dashboards, webhooks) can follow campaign progress.
const Channel = "mailblast:events"

// RedisSink mirrors published events onto a Redis pub/sub channel.
// Publish failures are logged and swallowed; event delivery is best effort.
type RedisSink struct {
	client *redis.Client
}

// NewRedisSink creates a sink writing to Channel.
func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

// Notify serializes the event to JSON and publishes it.
func (s *RedisSink) Notify(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("event marshal failed", "event_type", ev.Type, "error", err.Error())
		return
	}
	if err := s.client.Publish(ctx, Channel, data).Err(); err != nil {
		logger.Warn("event publish failed", "event_type", ev.Type, "error", err.Error())
	}
}
