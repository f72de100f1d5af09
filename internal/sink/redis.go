package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"acs-event-bridge/internal/config"
	"acs-event-bridge/internal/types"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisSink pushes accepted events onto a Redis list so that downstream
// consumers can drain them asynchronously. Not idempotent: a retried window
// re-pushes its rows.
type RedisSink struct {
	client *redis.Client
	cfg    config.RedisSinkConfig
	logger *logrus.Entry
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(cfg config.RedisSinkConfig, logger *logrus.Entry) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisSink{client: client, cfg: cfg, logger: logger}, nil
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Idempotent implements Sink.
func (s *RedisSink) Idempotent() bool { return false }

// Write pushes every event as one JSON list element, then trims the list to
// the configured ceiling when one is set.
func (s *RedisSink) Write(ctx context.Context, batch []types.CanonicalEvent) error {
	values := make([]interface{}, 0, len(batch))
	for i := range batch {
		data, err := json.Marshal(&batch[i])
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		values = append(values, data)
	}

	if err := s.client.RPush(ctx, s.cfg.ListKey, values...).Err(); err != nil {
		return fmt.Errorf("failed to push events: %w", err)
	}

	if s.cfg.MaxLen > 0 {
		if err := s.client.LTrim(ctx, s.cfg.ListKey, -s.cfg.MaxLen, -1).Err(); err != nil {
			return fmt.Errorf("failed to trim list: %w", err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"list":  s.cfg.ListKey,
		"count": len(batch),
	}).Debug("Events pushed to Redis")

	return nil
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
