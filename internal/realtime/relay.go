package realtime

import (
	"context"
	"sync"
)

// DeliverFunc hands a relayed payload to the local hub.
type DeliverFunc func(topic string, payload []byte)

// Relay carries published events between hub instances. Every instance
// subscribes once and receives all topics, including its own publishes.
type Relay interface {
	Name() string
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, deliver DeliverFunc) error
	Ping(ctx context.Context) error
	Close() error
}

// LocalRelay delivers publishes in-process. It serves single-instance deployments.
type LocalRelay struct {
	mu      sync.RWMutex
	deliver DeliverFunc
}

// NewLocalRelay creates an in-process relay.
func NewLocalRelay() *LocalRelay {
	return &LocalRelay{}
}

// Name returns the relay name.
func (r *LocalRelay) Name() string { return "local" }

// Publish delivers synchronously to the subscribed hub, if any.
func (r *LocalRelay) Publish(_ context.Context, topic string, payload []byte) error {
	r.mu.RLock()
	deliver := r.deliver
	r.mu.RUnlock()
	if deliver != nil {
		deliver(topic, payload)
	}
	return nil
}

// Subscribe registers the hub's delivery function.
func (r *LocalRelay) Subscribe(_ context.Context, deliver DeliverFunc) error {
	r.mu.Lock()
	r.deliver = deliver
	r.mu.Unlock()
	return nil
}

// Ping always succeeds.
func (r *LocalRelay) Ping(context.Context) error { return nil }

// Close detaches the hub.
func (r *LocalRelay) Close() error {
	r.mu.Lock()
	r.deliver = nil
	r.mu.Unlock()
	return nil
}
