package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/stageconnect/messaging-platform/internal/realtime"
	"github.com/stageconnect/messaging-platform/pkg/logger"
)

// SubjectPrefix is the prefix for all realtime subjects.
const SubjectPrefix = "chat"

// Subject maps a hub topic to a NATS subject: "user:10" -> "chat.user.10",
// "public" -> "chat.public".
func Subject(topic string) string {
	return SubjectPrefix + "." + strings.ReplaceAll(topic, ":", ".")
}

// Topic maps a NATS subject back to a hub topic.
func Topic(subject string) (string, bool) {
	rest, ok := strings.CutPrefix(subject, SubjectPrefix+".")
	if !ok || rest == "" {
		return "", false
	}
	return strings.Replace(rest, ".", ":", 1), true
}

// Relay fans hub events out over core NATS subjects.
type Relay struct {
	client *Client
	logger *logger.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

var _ realtime.Relay = (*Relay)(nil)

// NewRelay creates a relay on an established client.
func NewRelay(client *Client, log *logger.Logger) *Relay {
	return &Relay{client: client, logger: log}
}

// Name returns the relay name.
func (r *Relay) Name() string { return "nats" }

// Publish sends a payload on the topic's subject.
func (r *Relay) Publish(_ context.Context, topic string, payload []byte) error {
	if err := r.client.Conn().Publish(Subject(topic), payload); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	return nil
}

// Subscribe delivers every realtime subject to the hub.
func (r *Relay) Subscribe(_ context.Context, deliver realtime.DeliverFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return errors.New("relay already subscribed")
	}

	sub, err := r.client.Conn().Subscribe(SubjectPrefix+".>", func(msg *nats.Msg) {
		topic, ok := Topic(msg.Subject)
		if !ok {
			r.logger.Warn("ignoring unexpected subject", zap.String("subject", msg.Subject))
			return
		}
		deliver(topic, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to NATS: %w", err)
	}
	r.sub = sub
	return nil
}

// Ping reports whether the connection is up.
func (r *Relay) Ping(ctx context.Context) error {
	if !r.client.IsConnected() {
		return errors.New("NATS not connected")
	}
	return r.client.Conn().FlushWithContext(ctx)
}

// Close removes the subscription. The client is closed by its owner.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub == nil {
		return nil
	}
	err := r.sub.Unsubscribe()
	r.sub = nil
	return err
}
