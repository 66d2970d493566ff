package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stageconnect/messaging-platform/internal/model"
	"github.com/stageconnect/messaging-platform/pkg/logger"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(NewLocalRelay(), logger.NewNop())
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("start hub: %v", err)
	}
	t.Cleanup(func() { _ = hub.Close() })
	return hub
}

func expectEvent(t *testing.T, s *Session, typ model.EventType) model.Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatalf("session %s closed while waiting for %s", s.ID(), typ)
		}
		if ev.Type != typ {
			t.Fatalf("expected %s, got %s", typ, ev.Type)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", typ)
	}
	return model.Event{}
}

func expectNoEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestHubRoutesUserTopics(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	alice := NewSession(TransportWebSocket, 8)
	bob := NewSession(TransportWebSocket, 8)
	bobPhone := NewSession(TransportSSE, 8)
	for _, s := range []*Session{alice, bob, bobPhone} {
		hub.Register(s)
	}
	hub.Subscribe(alice, 1)
	hub.Subscribe(bob, 2)
	hub.Subscribe(bobPhone, 2)

	hub.Publish(ctx, model.UserTopic(2), model.Event{Type: model.EventChat, SenderID: 1, Content: "hi"})

	if ev := expectEvent(t, bob, model.EventChat); ev.Content != "hi" {
		t.Fatalf("unexpected content %q", ev.Content)
	}
	expectEvent(t, bobPhone, model.EventChat)
	expectNoEvent(t, alice)

	if !hub.Online(2) || hub.Online(3) {
		t.Fatal("online state mismatch")
	}
}

func TestHubPublicTopicReachesEverySession(t *testing.T) {
	hub := newTestHub(t)

	bound := NewSession(TransportWebSocket, 8)
	unbound := NewSession(TransportWebSocket, 8)
	hub.Register(bound)
	hub.Register(unbound)
	hub.Subscribe(bound, 5)

	hub.Publish(context.Background(), model.PublicTopic, model.Event{Type: model.EventJoin, SenderID: 5})
	expectEvent(t, bound, model.EventJoin)
	expectEvent(t, unbound, model.EventJoin)
}

func TestHubUnregisterEmitsLeave(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	watcher := NewSession(TransportWebSocket, 8)
	leaving := NewSession(TransportWebSocket, 8)
	hub.Register(watcher)
	hub.Register(leaving)
	hub.Subscribe(leaving, 9)

	hub.Unregister(ctx, leaving)

	ev := expectEvent(t, watcher, model.EventLeave)
	if ev.SenderID != 9 {
		t.Fatalf("expected LEAVE for 9, got %d", ev.SenderID)
	}
	if _, ok := <-leaving.Events(); ok {
		t.Fatal("unregistered session queue must be closed")
	}
	if hub.Online(9) || hub.SessionCount() != 1 {
		t.Fatal("session must be gone")
	}

	// A second unregister is a no-op.
	hub.Unregister(ctx, leaving)
	expectNoEvent(t, watcher)
}

func TestHubUnregisterUnboundIsSilent(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	watcher := NewSession(TransportWebSocket, 8)
	anon := NewSession(TransportWebSocket, 8)
	hub.Register(watcher)
	hub.Register(anon)

	hub.Unregister(ctx, anon)
	expectNoEvent(t, watcher)
}

func TestHubUnsubscribeKeepsSessionRegistered(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	s := NewSession(TransportWebSocket, 8)
	hub.Register(s)
	hub.Subscribe(s, 4)
	hub.Unsubscribe(ctx, s)

	// The session still receives public events, including its own LEAVE.
	ev := expectEvent(t, s, model.EventLeave)
	if ev.SenderID != 4 || s.UserID() != 0 {
		t.Fatalf("unexpected state after unsubscribe: %+v, user %d", ev, s.UserID())
	}
	hub.Publish(ctx, model.UserTopic(4), model.Event{Type: model.EventChat})
	expectNoEvent(t, s)
}

func TestHubRebindMovesSession(t *testing.T) {
	hub := newTestHub(t)

	s := NewSession(TransportWebSocket, 8)
	hub.Register(s)
	hub.Subscribe(s, 1)
	hub.Subscribe(s, 2)

	if hub.Online(1) || !hub.Online(2) {
		t.Fatal("rebinding must move the session")
	}
}

func TestHubDropsForFullQueueWithoutBlocking(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	slow := NewSession(TransportWebSocket, 1)
	fast := NewSession(TransportWebSocket, 8)
	hub.Register(slow)
	hub.Register(fast)
	hub.Subscribe(slow, 1)
	hub.Subscribe(fast, 2)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Publish(ctx, model.UserTopic(1), model.Event{Type: model.EventChat})
		}
		hub.Publish(ctx, model.UserTopic(2), model.Event{Type: model.EventChat})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full session")
	}
	expectEvent(t, slow, model.EventChat)
	expectNoEvent(t, slow)
	expectEvent(t, fast, model.EventChat)
}

func TestHubSendTargetsOneSession(t *testing.T) {
	hub := newTestHub(t)

	a := NewSession(TransportWebSocket, 8)
	b := NewSession(TransportWebSocket, 8)
	hub.Register(a)
	hub.Register(b)
	hub.Subscribe(a, 1)
	hub.Subscribe(b, 1)

	hub.Send(a, model.Event{Type: model.EventError, Content: "nope"})
	expectEvent(t, a, model.EventError)
	expectNoEvent(t, b)
}

func TestHubIgnoresUnknownTopics(t *testing.T) {
	hub := newTestHub(t)
	s := NewSession(TransportWebSocket, 8)
	hub.Register(s)
	hub.Subscribe(s, 1)

	hub.Publish(context.Background(), "bogus", model.Event{Type: model.EventChat})
	expectNoEvent(t, s)
}
