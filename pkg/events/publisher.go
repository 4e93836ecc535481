// Package events publishes governance events to a Redis stream, and
// optionally to a Pub/Sub channel for live watchers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pario-ai/warden/pkg/models"
)

// DefaultMaxLen bounds the stream with approximate trimming.
const DefaultMaxLen = 10000

// Publisher writes models.Event values to Redis.
type Publisher struct {
	client  *redis.Client
	stream  string
	channel string
	maxLen  int64
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMaxLen sets the approximate stream length cap. Zero disables trimming.
func WithMaxLen(n int64) Option {
	return func(p *Publisher) { p.maxLen = n }
}

// WithChannel also publishes each event as JSON on a Pub/Sub channel.
func WithChannel(name string) Option {
	return func(p *Publisher) { p.channel = name }
}

// NewPublisher creates a publisher writing to stream.
func NewPublisher(client *redis.Client, stream string, opts ...Option) *Publisher {
	p := &Publisher{
		client: client,
		stream: stream,
		maxLen: DefaultMaxLen,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect parses url, opens a client and verifies it with PING.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Stream returns the stream name.
func (p *Publisher) Stream() string { return p.stream }

// Publish appends ev to the stream.
func (p *Publisher) Publish(ctx context.Context, ev models.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	fields := map[string]any{
		"type":      string(ev.Type),
		"job_id":    ev.JobID,
		"model":     ev.Model,
		"timestamp": ev.Timestamp.Format(time.RFC3339Nano),
		"data":      string(data),
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	if p.channel != "" {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
			return fmt.Errorf("failed to publish to Pub/Sub: %w", err)
		}
	}
	return nil
}

// Close closes the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
