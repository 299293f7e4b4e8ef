package events

import (
	"context"
	"encoding/json"
	"fmt"

	"inspectwatch/types"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events on inspectwatch:{instance}:events and keeps the
// latest counters and palette under inspectwatch:{instance}:counters and :palette
type RedisSink struct {
	rdb           *redis.Client
	instance      string
	includeImages bool
}

// NewRedisSink creates a sink for one inspection line instance
func NewRedisSink(opts *redis.Options, instance string, includeImages bool) (*RedisSink, error) {
	if instance == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &RedisSink{
		rdb:           redis.NewClient(opts),
		instance:      instance,
		includeImages: includeImages,
	}, nil
}

// EventsChannel returns the pub/sub channel events are published on
func (s *RedisSink) EventsChannel() string {
	return fmt.Sprintf("inspectwatch:%s:events", s.instance)
}

// CountersKey returns the key holding the latest counters
func (s *RedisSink) CountersKey() string {
	return fmt.Sprintf("inspectwatch:%s:counters", s.instance)
}

// PaletteKey returns the key holding the latest palette event
func (s *RedisSink) PaletteKey() string {
	return fmt.Sprintf("inspectwatch:%s:palette", s.instance)
}

// Name implements Sink
func (s *RedisSink) Name() string { return "redis" }

// Ping checks the connection
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}

// Handle implements Sink
func (s *RedisSink) Handle(ctx context.Context, ev types.Event) error {
	if ev.Image != nil && !s.includeImages {
		img := *ev.Image
		img.Encoded = nil
		ev.Image = &img
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.rdb.Publish(ctx, s.EventsChannel(), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	switch {
	case ev.Kind == types.EventCounters && ev.Counters != nil:
		return s.setJSON(ctx, s.CountersKey(), ev.Counters)
	case ev.Kind == types.EventGrid && ev.Grid != nil:
		return s.setJSON(ctx, s.PaletteKey(), ev.Grid)
	}
	return nil
}

func (s *RedisSink) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
