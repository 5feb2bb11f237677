// Package notify announces finished redaction jobs to interested subscribers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Veraticus/redactor/internal/service"
)

// DefaultChannel is the Redis channel completion events are published on.
const DefaultChannel = "redactor:jobs:completed"

// historyLength bounds the list of recent events kept next to the channel.
const historyLength = 100

// Redis publishes completion events on a pub/sub channel and keeps the most
// recent ones in a capped list for late readers.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis creates a Redis notifier. An empty channel selects DefaultChannel.
func NewRedis(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel}
}

// HistoryKey is the list holding recent events, newest first.
func (n *Redis) HistoryKey() string {
	return n.channel + ":recent"
}

// Publish implements service.Notifier.
func (n *Redis) Publish(ctx context.Context, event service.CompletionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal completion event: %w", err)
	}

	pipe := n.client.TxPipeline()
	pipe.Publish(ctx, n.channel, payload)
	pipe.LPush(ctx, n.HistoryKey(), payload)
	pipe.LTrim(ctx, n.HistoryKey(), 0, historyLength-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish completion event: %w", err)
	}
	return nil
}

// Recent returns up to limit recent events, newest first.
func (n *Redis) Recent(ctx context.Context, limit int) ([]service.CompletionEvent, error) {
	if limit <= 0 || limit > historyLength {
		limit = historyLength
	}
	raw, err := n.client.LRange(ctx, n.HistoryKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent events: %w", err)
	}

	events := make([]service.CompletionEvent, 0, len(raw))
	for _, r := range raw {
		var e service.CompletionEvent
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal completion event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

// Log writes completion events to a logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Publish implements service.Notifier.
func (n *Log) Publish(_ context.Context, event service.CompletionEvent) error {
	n.logger.Info("Redaction job completed",
		"request_id", event.RequestID,
		"tenant", event.Tenant,
		"stage", event.Stage,
		"status", event.Status,
		"processed", event.Processed,
		"failed", event.Failed,
		"redactions", event.Redactions)
	return nil
}

// Multi fans an event out to several notifiers. Every notifier is tried and
// the failures are joined.
type Multi []service.Notifier

// Publish implements service.Notifier.
func (m Multi) Publish(ctx context.Context, event service.CompletionEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
