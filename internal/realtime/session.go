package realtime

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/stageconnect/messaging-platform/internal/model"
)

// Transport names used for session metrics.
const (
	TransportWebSocket = "websocket"
	TransportSSE       = "sse"
)

const defaultSendBuffer = 256

// Session is one live client channel. The hub owns its outbound queue and
// closes it when the session is unregistered.
type Session struct {
	id        string
	transport string
	send      chan model.Event
	userID    atomic.Int64
}

// NewSession creates a session with a buffered outbound queue.
func NewSession(transport string, buffer int) *Session {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Session{
		id:        uuid.NewString(),
		transport: transport,
		send:      make(chan model.Event, buffer),
	}
}

// ID returns the session handle.
func (s *Session) ID() string { return s.id }

// Transport returns the transport name.
func (s *Session) Transport() string { return s.transport }

// UserID returns the bound user, or 0 when unbound.
func (s *Session) UserID() int64 { return s.userID.Load() }

// Events returns the outbound queue. It is closed on unregister.
func (s *Session) Events() <-chan model.Event { return s.send }
