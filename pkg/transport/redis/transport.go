// Package redis carries replication envelopes over Redis pub/sub. Every
// machine gets its own channel; all components of the machine publish and
// subscribe on it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/anggasct/logicdriver/pkg/logger"
	"github.com/anggasct/logicdriver/pkg/network"
)

// Transport implements network.Transport on a Redis channel.
type Transport struct {
	client  redis.UniversalClient
	channel string
	buffer  int
	logger  *slog.Logger
}

var _ network.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger for dropped or malformed messages.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithBufferSize sets the size of the subscription channel.
func WithBufferSize(n int) Option {
	return func(t *Transport) { t.buffer = max(n, 1) }
}

// New creates a transport for machine on client.
func New(client redis.UniversalClient, cfg Config, machine string, opts ...Option) (*Transport, error) {
	if machine == "" {
		return nil, ErrEmptyMachineName
	}
	t := &Transport{
		client:  client,
		channel: cfg.ChannelPrefix + machine,
		buffer:  256,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(logger.Component("redis"), slog.String("channel", t.channel))
	return t, nil
}

// Channel returns the pub/sub channel name.
func (t *Transport) Channel() string { return t.channel }

// Send publishes env as JSON.
func (t *Transport) Send(ctx context.Context, env network.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Join(network.ErrMalformedEnvelope, err)
	}
	return t.client.Publish(ctx, t.channel, data).Err()
}

// Subscribe listens on the machine channel until ctx ends. The
// subscription is confirmed before Subscribe returns, so envelopes sent
// afterwards are not missed.
func (t *Transport) Subscribe(ctx context.Context) (<-chan network.Envelope, error) {
	pubsub := t.client.Subscribe(ctx, t.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan network.Envelope, t.buffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var env network.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					t.logger.Warn("dropping malformed envelope", logger.Error(err))
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
