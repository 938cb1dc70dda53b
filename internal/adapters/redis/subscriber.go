// Package redis carries status events from an external orchestrator over
// Redis pub/sub. Each message is one JSON-encoded schema.StatusEvent.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/rendis/flowgraph/internal/logging"
	"github.com/rendis/flowgraph/pkg/schema"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "flowgraph:status"

// Sink accepts decoded events without blocking. Satisfied by
// *projector.Projector.
type Sink interface {
	Submit(ev schema.StatusEvent) bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithChannel sets the pub/sub channel.
func WithChannel(channel string) Option {
	return func(t *Transport) {
		if channel != "" {
			t.channel = channel
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// Transport publishes and consumes status events on one channel.
type Transport struct {
	client    *backend.Client
	channel   string
	logger    *slog.Logger
	baseDelay time.Duration
	maxDelay  time.Duration
}

// New creates a Transport with its own client.
func New(address, password string, db int, opts ...Option) *Transport {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Transport from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Transport {
	t := &Transport{
		client:    client,
		channel:   DefaultChannel,
		logger:    logging.NewNop(),
		baseDelay: defaultBaseDelay,
		maxDelay:  defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Channel returns the pub/sub channel.
func (t *Transport) Channel() string { return t.channel }

// Close closes the underlying client.
func (t *Transport) Close() error { return t.client.Close() }

// Publish sends one event.
func (t *Transport) Publish(ctx context.Context, ev schema.StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}
	if err := t.client.Publish(ctx, t.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Run subscribes to the channel and hands every decoded event to sink until
// ctx is done or the subscription breaks. Messages that are not valid JSON are logged and skipped;
// events missing ids are passed on so the sink can record them.
func (t *Transport) Run(ctx context.Context, sink Sink) error {
	ps := t.client.Subscribe(ctx, t.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", t.channel, err)
	}
	t.logger.Info("status subscription started", slog.String("channel", t.channel))

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			t.handle(ctx, msg.Payload, sink)
		}
	}
}

func (t *Transport) handle(ctx context.Context, payload string, sink Sink) {
	var ev schema.StatusEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		t.logger.WarnContext(ctx, "undecodable status message",
			slog.String("channel", t.channel),
			slog.String("error", err.Error()))
		return
	}
	if !sink.Submit(ev) {
		ctx = logging.WithIDs(ctx, "", ev.InstanceID, ev.NodeID)
		t.logger.WarnContext(ctx, "status event rejected by sink")
	}
}
