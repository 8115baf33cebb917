// Package notify forwards committed escrow events to external sinks.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"p2pescrow/internal/escrow"
)

// Sink receives committed events in sequence order.
type Sink interface {
	Publish(ctx context.Context, ev escrow.Event) error
}

// Cursor is implemented by sinks that remember the last delivered sequence
// number across restarts.
type Cursor interface {
	LastDelivered(ctx context.Context) (uint64, error)
}

// RedisSink publishes events as JSON on a pub/sub channel and records the
// last published sequence under "<channel>:cursor".
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = "p2pescrow.events"
	}
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) cursorKey() string {
	return s.channel + ":cursor"
}

func (s *RedisSink) Publish(ctx context.Context, ev escrow.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", ev.Seq, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Publish(ctx, s.channel, payload)
	pipe.Set(ctx, s.cursorKey(), ev.Seq, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish event %d: %w", ev.Seq, err)
	}
	return nil
}

func (s *RedisSink) LastDelivered(ctx context.Context) (uint64, error) {
	raw, err := s.client.Get(ctx, s.cursorKey()).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(raw, 10, 64)
}

func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// LogSink writes every event to the structured log.
type LogSink struct {
	Log logrus.FieldLogger
}

func (s LogSink) Publish(_ context.Context, ev escrow.Event) error {
	fields := logrus.Fields{
		"seq":       ev.Seq,
		"kind":      ev.Kind,
		"escrow_id": ev.EscrowID,
	}
	if ev.Amount != nil {
		fields["amount"] = ev.Amount.String()
	}
	s.Log.WithFields(fields).Info("escrow event")
	return nil
}
