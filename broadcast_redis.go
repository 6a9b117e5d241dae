package scopekit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to the Redis server named by cfg and verifies it
// answers a ping.
func NewRedisClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("scopekit: redis ping: %w", err)
	}
	return client, nil
}

// invalidationMessage is the payload published on the invalidation channel.
type invalidationMessage struct {
	Source string         `json:"source"`
	Refs   []Invalidation `json:"refs"`
}

// RedisBroadcaster propagates invalidations to the other instances sharing
// a store. Invalidate publishes; Start subscribes and applies messages from
// other instances to the local invalidator, normally the Cache.
//
// Example:
//
//	b := scopekit.NewRedisBroadcaster(client, cfg.InvalidationChannel, cache, logger)
//	if err := b.Start(ctx); err != nil {
//	    return err
//	}
//	defer b.Close()
//	svc := scopekit.NewService(store, scopekit.WithCache(cache), scopekit.WithInvalidator(b))
type RedisBroadcaster struct {
	client  redis.UniversalClient
	channel string
	local   Invalidator
	source  string
	logger  *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisBroadcaster creates a broadcaster publishing on channel.
func NewRedisBroadcaster(client redis.UniversalClient, channel string, local Invalidator, logger *slog.Logger) *RedisBroadcaster {
	if local == nil {
		local = noopInvalidator{}
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &RedisBroadcaster{
		client:  client,
		channel: channel,
		local:   local,
		source:  uuid.NewString(),
		logger:  logger.With(slog.String("component", "invalidation_broadcaster")),
	}
}

// Source returns the id this instance stamps on its messages.
func (b *RedisBroadcaster) Source() string {
	return b.source
}

// Invalidate publishes refs to the other instances.
func (b *RedisBroadcaster) Invalidate(ctx context.Context, refs ...Invalidation) error {
	if len(refs) == 0 {
		return nil
	}
	payload, err := json.Marshal(invalidationMessage{Source: b.source, Refs: refs})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("scopekit: publish invalidation: %w", err)
	}
	return nil
}

// Start subscribes to the channel and applies remote invalidations until
// ctx is done or Close is called. It returns once the subscription is
// confirmed by the server.
func (b *RedisBroadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return errors.New("scopekit: broadcaster already started")
	}

	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("scopekit: subscribe %s: %w", b.channel, err)
	}
	b.pubsub = pubsub
	b.done = make(chan struct{})

	go b.listen(ctx, pubsub.Channel(), b.done)
	b.logger.InfoContext(ctx, "listening for invalidations", slog.String("channel", b.channel))
	return nil
}

func (b *RedisBroadcaster) listen(ctx context.Context, messages <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.apply(ctx, msg.Payload)
		}
	}
}

func (b *RedisBroadcaster) apply(ctx context.Context, payload string) {
	var msg invalidationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		b.logger.WarnContext(ctx, "dropping malformed invalidation", slog.Any("error", err))
		return
	}
	if msg.Source == b.source {
		return
	}
	if err := b.local.Invalidate(ctx, msg.Refs...); err != nil {
		b.logger.ErrorContext(ctx, "remote invalidation failed",
			slog.String("source", msg.Source), slog.Any("error", err))
		return
	}
	b.logger.DebugContext(ctx, "remote invalidation applied",
		slog.String("source", msg.Source), slog.Int("refs", len(msg.Refs)))
}

// Ping checks connectivity to Redis.
func (b *RedisBroadcaster) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close stops listening. The client is not closed.
func (b *RedisBroadcaster) Close() error {
	b.mu.Lock()
	pubsub, done := b.pubsub, b.done
	b.pubsub, b.done = nil, nil
	b.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
