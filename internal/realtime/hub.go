// Package realtime fans events out to live client sessions.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stageconnect/messaging-platform/internal/model"
	"github.com/stageconnect/messaging-platform/pkg/logger"
	"github.com/stageconnect/messaging-platform/pkg/metrics"
)

// Hub tracks sessions and their user bindings and delivers topic events to
// them. Publishing never blocks on a slow session: a full queue drops the
// event for that session only.
type Hub struct {
	relay  Relay
	logger *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[int64]map[string]*Session
}

// NewHub creates a hub publishing through relay.
func NewHub(relay Relay, log *logger.Logger) *Hub {
	return &Hub{
		relay:    relay,
		logger:   log,
		sessions: make(map[string]*Session),
		byUser:   make(map[int64]map[string]*Session),
	}
}

// Start subscribes the hub to its relay.
func (h *Hub) Start(ctx context.Context) error {
	return h.relay.Subscribe(ctx, h.deliver)
}

// Close detaches the relay.
func (h *Hub) Close() error {
	return h.relay.Close()
}

// Ping checks the relay.
func (h *Hub) Ping(ctx context.Context) error {
	return h.relay.Ping(ctx)
}

// Register adds an unbound session. It receives public events immediately.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	metrics.SessionOpened(s.transport)
	h.logger.Debug("session registered", zap.String("session_id", s.id), zap.String("transport", s.transport))
}

// Subscribe binds the session to userID so it receives the user's topic.
// Rebinding moves the session to the new user.
func (h *Hub) Subscribe(s *Session, userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s.id]; !ok {
		return
	}
	if prev := s.userID.Load(); prev != 0 {
		h.unbindLocked(s, prev)
	}
	set, ok := h.byUser[userID]
	if !ok {
		set = make(map[string]*Session)
		h.byUser[userID] = set
	}
	set[s.id] = s
	s.userID.Store(userID)

	h.logger.Info("session bound", zap.String("session_id", s.id), zap.Int64("user_id", userID))
}

// Unsubscribe unbinds the session and announces LEAVE on the public topic.
func (h *Hub) Unsubscribe(ctx context.Context, s *Session) {
	h.mu.Lock()
	userID := s.userID.Load()
	if userID != 0 {
		h.unbindLocked(s, userID)
	}
	h.mu.Unlock()

	if userID != 0 {
		h.announceLeave(ctx, userID)
	}
}

// Unregister removes the session, closes its queue and, when it was bound,
// announces LEAVE. It is safe to call more than once.
func (h *Hub) Unregister(ctx context.Context, s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.id]; !ok {
		h.mu.Unlock()
		return
	}
	userID := s.userID.Load()
	if userID != 0 {
		h.unbindLocked(s, userID)
	}
	delete(h.sessions, s.id)
	close(s.send)
	h.mu.Unlock()

	metrics.SessionClosed(s.transport)
	h.logger.Debug("session unregistered", zap.String("session_id", s.id))

	if userID != 0 {
		h.announceLeave(ctx, userID)
	}
}

func (h *Hub) unbindLocked(s *Session, userID int64) {
	if set, ok := h.byUser[userID]; ok {
		delete(set, s.id)
		if len(set) == 0 {
			delete(h.byUser, userID)
		}
	}
	s.userID.Store(0)
}

func (h *Hub) announceLeave(ctx context.Context, userID int64) {
	h.Publish(ctx, model.PublicTopic, model.Event{
		Type:      model.EventLeave,
		SenderID:  userID,
		Timestamp: time.Now(),
	})
}

// Publish sends an event to every session subscribed to topic, on every
// instance sharing the relay. Failures are logged and counted.
func (h *Hub) Publish(ctx context.Context, topic string, ev model.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("topic", topic), zap.Error(err))
		return
	}

	metrics.RealtimeEventsTotal.WithLabelValues(string(ev.Type)).Inc()
	if err := h.relay.Publish(ctx, topic, payload); err != nil {
		metrics.RelayErrorsTotal.WithLabelValues(h.relay.Name(), "publish").Inc()
		h.logger.Warn("failed to relay event",
			zap.String("relay", h.relay.Name()),
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
}

// Send queues an event for a single session, bypassing topics.
func (h *Hub) Send(s *Session, ev model.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.sessions[s.id]; !ok {
		return
	}
	h.enqueue(s, ev)
}

// Online reports whether userID has at least one bound session on this instance.
func (h *Hub) Online(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// SessionCount returns the number of registered sessions on this instance.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// deliver routes a relayed payload to local sessions.
func (h *Hub) deliver(topic string, payload []byte) {
	var ev model.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		metrics.RelayErrorsTotal.WithLabelValues(h.relay.Name(), "decode").Inc()
		h.logger.Warn("dropping undecodable relay payload", zap.String("topic", topic), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if topic == model.PublicTopic {
		for _, s := range h.sessions {
			h.enqueue(s, ev)
		}
		return
	}

	userID, ok := model.ParseUserTopic(topic)
	if !ok {
		h.logger.Warn("dropping event for unknown topic", zap.String("topic", topic))
		return
	}
	for _, s := range h.byUser[userID] {
		h.enqueue(s, ev)
	}
}

// enqueue must be called with h.mu held, which keeps the queue open.
func (h *Hub) enqueue(s *Session, ev model.Event) {
	select {
	case s.send <- ev:
	default:
		metrics.RealtimeDroppedTotal.Inc()
		h.logger.Warn("session queue full, dropping event",
			zap.String("session_id", s.id),
			zap.String("type", string(ev.Type)),
		)
	}
}
