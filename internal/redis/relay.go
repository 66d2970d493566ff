// Package redis provides a realtime relay over Redis pub/sub.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stageconnect/messaging-platform/internal/realtime"
	"github.com/stageconnect/messaging-platform/pkg/logger"
)

// ChannelPrefix is the prefix for all realtime channels.
const ChannelPrefix = "chat:"

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient creates a Redis client and checks connectivity.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// Channel maps a hub topic to a Redis channel.
func Channel(topic string) string {
	return ChannelPrefix + topic
}

// Topic maps a Redis channel back to a hub topic.
func Topic(channel string) (string, bool) {
	topic, ok := strings.CutPrefix(channel, ChannelPrefix)
	if !ok || topic == "" {
		return "", false
	}
	return topic, true
}

// Relay fans hub events out over Redis pub/sub so every instance sees them.
type Relay struct {
	rdb    *redis.Client
	logger *logger.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

var _ realtime.Relay = (*Relay)(nil)

// NewRelay creates a relay on a Redis client.
func NewRelay(rdb *redis.Client, log *logger.Logger) *Relay {
	return &Relay{rdb: rdb, logger: log}
}

// Name returns the relay name.
func (r *Relay) Name() string { return "redis" }

// Publish sends a payload on the topic's channel.
func (r *Relay) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.rdb.Publish(ctx, Channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Subscribe pattern-subscribes to all realtime channels and delivers them to
// the hub until Close.
func (r *Relay) Subscribe(ctx context.Context, deliver realtime.DeliverFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return errors.New("relay already subscribed")
	}

	pubsub := r.rdb.PSubscribe(ctx, ChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to redis: %w", err)
	}

	r.pubsub = pubsub
	r.done = make(chan struct{})
	go r.loop(pubsub.Channel(), deliver, r.done)
	return nil
}

func (r *Relay) loop(ch <-chan *redis.Message, deliver realtime.DeliverFunc, done chan struct{}) {
	defer close(done)
	for msg := range ch {
		topic, ok := Topic(msg.Channel)
		if !ok {
			r.logger.Warn("ignoring unexpected channel", zap.String("channel", msg.Channel))
			continue
		}
		deliver(topic, []byte(msg.Payload))
	}
}

// Ping checks the Redis connection.
func (r *Relay) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close stops the subscription and waits for the delivery loop to exit.
func (r *Relay) Close() error {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub, r.done = nil, nil
	r.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
