package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel carries change notifications between instances.
const DefaultChannel = "steward:docstore:changes"

type changeMessage struct {
	Paths  []string `json:"paths"`
	Origin string   `json:"origin,omitempty"`
}

// Redis publishes change notifications on a pub/sub channel so every instance
// sharing the database refreshes its subscribers. Delivery is asynchronous:
// handlers run on the goroutine started by Start.
type Redis struct {
	client   *redis.Client
	channel  string
	origin   string
	logger   *slog.Logger
	handlers *handlers
}

// RedisOption configures the Redis notifier.
type RedisOption func(*Redis)

// WithChannel overrides DefaultChannel.
func WithChannel(channel string) RedisOption {
	return func(r *Redis) {
		if channel != "" {
			r.channel = channel
		}
	}
}

// WithOrigin tags outgoing messages with an instance name for log correlation.
func WithOrigin(origin string) RedisOption {
	return func(r *Redis) {
		r.origin = origin
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRedis creates a Redis-backed notifier. Call Start before relying on
// delivery.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:   client,
		channel:  DefaultChannel,
		logger:   slog.Default(),
		handlers: newHandlers(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Publish(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	payload, err := json.Marshal(changeMessage{Paths: paths, Origin: r.origin})
	if err != nil {
		return fmt.Errorf("marshal change message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change message: %w", err)
	}
	return nil
}

func (r *Redis) Listen(fn Handler) func() {
	return r.handlers.add(fn)
}

// Start subscribes to the channel and dispatches messages until ctx is done.
// It returns once the subscription is confirmed.
func (r *Redis) Start(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.InfoContext(ctx, "docstore change notifier subscribed", "channel", r.channel)

	go r.listen(ctx, pubsub)
	return nil
}

func (r *Redis) listen(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var change changeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				r.logger.WarnContext(ctx, "dropping malformed change message", "error", err)
				continue
			}
			r.handlers.dispatch(ctx, change.Paths)
		}
	}
}
