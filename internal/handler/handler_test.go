package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stageconnect/messaging-platform/internal/middleware"
	"github.com/stageconnect/messaging-platform/internal/model"
	"github.com/stageconnect/messaging-platform/internal/realtime"
	"github.com/stageconnect/messaging-platform/internal/service"
	"github.com/stageconnect/messaging-platform/internal/store"
	"github.com/stageconnect/messaging-platform/pkg/logger"
	"github.com/stageconnect/messaging-platform/pkg/ratelimit"
)

const testSecret = "handler-test-secret"

type testServer struct {
	t   *testing.T
	url string
	hub *realtime.Hub
}

func newTestServer(t *testing.T, opts service.GatewayOptions, userIDs ...int64) *testServer {
	t.Helper()
	return newTestServerWith(t, opts, RouterConfig{}, userIDs...)
}

// newTestServerWith lets a test set router limits; handlers and secrets are
// always filled in here.
func newTestServerWith(t *testing.T, opts service.GatewayOptions, rc RouterConfig, userIDs ...int64) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(filepath.Join(t.TempDir(), "handler.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(db) })

	profiles := store.NewProfileDirectory(db)
	for _, id := range userIDs {
		kind := model.KindCandidate
		if id%2 == 0 {
			kind = model.KindResponsible
		}
		if err := profiles.Upsert(ctx, &store.ProfileRecord{ID: id, Kind: string(kind), Name: "user"}); err != nil {
			t.Fatalf("seed profile: %v", err)
		}
	}

	log := logger.NewNop()
	hub := realtime.NewHub(realtime.NewLocalRelay(), log)
	if err := hub.Start(ctx); err != nil {
		t.Fatalf("start hub: %v", err)
	}
	t.Cleanup(func() { _ = hub.Close() })

	connections := service.NewConnectionService(store.NewConnectionRepository(db), profiles, hub, log)
	conversations := service.NewConversationService(store.NewMessageRepository(db), profiles, log)
	gateway := service.NewGateway(connections, conversations, hub, opts, log)

	rc.Health = NewHealthHandler(map[string]ReadinessCheck{
		"database": func(ctx context.Context) error { return store.Ping(ctx, db) },
		"realtime": hub.Ping,
	})
	rc.Connections = NewConnectionHandler(connections, log)
	rc.Messages = NewMessageHandler(gateway, log)
	rc.Realtime = NewRealtimeHandler(hub, gateway, ratelimit.New(50, 50, time.Minute), nil, log)
	rc.JWTSecret = testSecret
	rc.Logger = log
	router := NewRouter(rc)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{t: t, url: srv.URL, hub: hub}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(method, path string, asUser int64, body any) (int, apiResponse) {
	s.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.url+path, reader)
	if err != nil {
		s.t.Fatalf("request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if asUser > 0 {
		token, err := middleware.SignToken(testSecret, asUser, time.Minute)
		if err != nil {
			s.t.Fatalf("sign: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		s.t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (s *testServer) session(userID int64) *realtime.Session {
	sess := realtime.NewSession(realtime.TransportSSE, 64)
	s.hub.Register(sess)
	s.hub.Subscribe(sess, userID)
	s.t.Cleanup(func() { s.hub.Unregister(context.Background(), sess) })
	return sess
}

func waitEvent(t *testing.T, s *realtime.Session, typ model.EventType) model.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
			return model.Event{}
		}
	}
}

func decodeData[T any](t *testing.T, resp apiResponse) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(resp.Data, &v); err != nil {
		t.Fatalf("decode data: %v (%s)", err, resp.Data)
	}
	return v
}

func TestConnectThenMessageEndToEnd(t *testing.T) {
	srv := newTestServer(t, service.GatewayOptions{}, 10, 20)
	inbox10 := srv.session(10)
	inbox20 := srv.session(20)

	status, resp := srv.do(http.MethodPost, "/api/v1/connections/request/20", 10, map[string]int64{"user_id": 10})
	if status != http.StatusCreated || !resp.Success {
		t.Fatalf("request: %d %+v", status, resp)
	}
	view := decodeData[model.ConnectionView](t, resp)
	if view.Status != model.StatusPending || !view.IsUserRequester {
		t.Fatalf("unexpected view %+v", view)
	}

	status, resp = srv.do(http.MethodPut, "/api/v1/connections/"+itoa(view.ID)+"/accept", 20, map[string]int64{"user_id": 20})
	if status != http.StatusOK || decodeData[model.ConnectionView](t, resp).Status != model.StatusConnected {
		t.Fatalf("accept: %d %+v", status, resp)
	}

	status, resp = srv.do(http.MethodGet, "/api/v1/connections/status/10/20", 10, nil)
	if status != http.StatusOK || !strings.Contains(string(resp.Data), `"connected":true`) {
		t.Fatalf("status: %d %s", status, resp.Data)
	}

	status, resp = srv.do(http.MethodPost, "/api/v1/messages/send", 10, map[string]any{
		"sender_id": 10, "receiver_id": 20, "content": "hello",
	})
	if status != http.StatusCreated || !resp.Success {
		t.Fatalf("send: %d %+v", status, resp)
	}
	msg := decodeData[model.Message](t, resp)
	if msg.ConversationID != "10_20" || msg.IsRead {
		t.Fatalf("unexpected message %+v", msg)
	}

	if ev := waitEvent(t, inbox20, model.EventChat); ev.Content != "hello" {
		t.Fatalf("receiver CHAT content %q", ev.Content)
	}
	waitEvent(t, inbox10, model.EventChat)

	status, resp = srv.do(http.MethodGet, "/api/v1/messages/unread/20?partnerId=10", 20, nil)
	if status != http.StatusOK || decodeData[model.UnreadCount](t, resp).Count != 1 {
		t.Fatalf("unread: %d %s", status, resp.Data)
	}

	status, resp = srv.do(http.MethodGet, "/api/v1/messages/20/10", 20, nil)
	if status != http.StatusOK {
		t.Fatalf("thread: %d %+v", status, resp)
	}
	thread := decodeData[model.Thread](t, resp)
	if len(thread.Messages) != 1 || thread.MarkedRead != 1 {
		t.Fatalf("unexpected thread %+v", thread)
	}
	if ev := waitEvent(t, inbox10, model.EventRead); ev.SenderID != 20 {
		t.Fatalf("READ should come from the reader, got %+v", ev)
	}

	status, resp = srv.do(http.MethodGet, "/api/v1/messages/conversations/10", 10, nil)
	summaries := decodeData[[]model.ConversationSummary](t, resp)
	if status != http.StatusOK || len(summaries) != 1 || summaries[0].ID != "10_20" {
		t.Fatalf("conversations: %d %s", status, resp.Data)
	}

	status, resp = srv.do(http.MethodGet, "/api/v1/messages/conversation/10_20", 20, nil)
	if status != http.StatusOK || len(decodeData[model.MessagePage](t, resp).Messages) != 1 {
		t.Fatalf("by conversation: %d %s", status, resp.Data)
	}

	status, _ = srv.do(http.MethodDelete, "/api/v1/connections/"+itoa(view.ID)+"?userId=20", 20, nil)
	if status != http.StatusOK {
		t.Fatalf("remove: %d", status)
	}
	status, resp = srv.do(http.MethodGet, "/api/v1/connections/stats/10", 10, nil)
	if stats := decodeData[model.ConnectionStats](t, resp); status != http.StatusOK || stats.ConnectionsCount != 0 {
		t.Fatalf("stats after removal: %d %+v", status, stats)
	}
}

func TestActorMismatchIsForbidden(t *testing.T) {
	srv := newTestServer(t, service.GatewayOptions{}, 10, 20)

	status, resp := srv.do(http.MethodPost, "/api/v1/messages/send", 20, map[string]any{
		"sender_id": 10, "receiver_id": 20, "content": "spoofed",
	})
	if status != http.StatusForbidden || resp.Success {
		t.Fatalf("expected 403, got %d %+v", status, resp)
	}

	status, _ = srv.do(http.MethodGet, "/api/v1/messages/conversations/10", 20, nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for reading another inbox, got %d", status)
	}

	status, _ = srv.do(http.MethodGet, "/api/v1/messages/conversation/10_30", 20, nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for a foreign conversation, got %d", status)
	}
}

func TestMissingActorIDIsBadRequest(t *testing.T) {
	srv := newTestServer(t, service.GatewayOptions{}, 10, 20)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"request without user_id", http.MethodPost, "/api/v1/connections/request/20", map[string]any{}},
		{"send without sender_id", http.MethodPost, "/api/v1/messages/send", map[string]any{"receiver_id": 20, "content": "hi"}},
		{"send with negative sender_id", http.MethodPost, "/api/v1/messages/send", map[string]any{"sender_id": -10, "receiver_id": 20, "content": "hi"}},
	}
	for _, tc := range cases {
		status, resp := srv.do(tc.method, tc.path, 10, tc.body)
		if status != http.StatusBadRequest || resp.Success {
			t.Fatalf("%s: expected 400, got %d %+v", tc.name, status, resp)
		}
	}
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	srv := newTestServer(t, service.GatewayOptions{}, 10)
	status, resp := srv.do(http.MethodGet, "/api/v1/connections/user/10", 0, nil)
	if status != http.StatusUnauthorized || resp.Success {
		t.Fatalf("expected 401, got %d %+v", status, resp)
	}
}

func TestErrorKindsMapToStatus(t *testing.T) {
	srv := newTestServer(t, service.GatewayOptions{RequireConnection: true}, 10, 20, 30)

	cases := []struct {
		name   string
		method string
		path   string
		user   int64
		body   any
		want   int
	}{
		{"self request", http.MethodPost, "/api/v1/connections/request/10", 10, map[string]int64{"user_id": 10}, http.StatusBadRequest},
		{"unknown receiver", http.MethodPost, "/api/v1/connections/request/99", 10, map[string]int64{"user_id": 10}, http.StatusNotFound},
		{"empty content", http.MethodPost, "/api/v1/messages/send", 10, map[string]any{"sender_id": 10, "receiver_id": 20, "content": "   "}, http.StatusBadRequest},
		{"not connected", http.MethodPost, "/api/v1/messages/send", 10, map[string]any{"sender_id": 10, "receiver_id": 20, "content": "hi"}, http.StatusForbidden},
		{"bad conversation id", http.MethodGet, "/api/v1/messages/conversation/20_10", 10, nil, http.StatusBadRequest},
		{"bad path id", http.MethodGet, "/api/v1/connections/user/abc", 10, nil, http.StatusBadRequest},
		{"unknown connection", http.MethodPut, "/api/v1/connections/404/accept", 10, map[string]int64{"user_id": 10}, http.StatusNotFound},
	}
	for _, tc := range cases {
		status, resp := srv.do(tc.method, tc.path, tc.user, tc.body)
		if status != tc.want || resp.Success {
			t.Fatalf("%s: expected %d, got %d %+v", tc.name, tc.want, status, resp)
		}
	}

	status, resp := srv.do(http.MethodPost, "/api/v1/connections/request/20", 10, map[string]int64{"user_id": 10})
	if status != http.StatusCreated {
		t.Fatalf("request: %d %+v", status, resp)
	}
	id := itoa(decodeData[model.ConnectionView](t, resp).ID)

	if status, _ := srv.do(http.MethodPost, "/api/v1/connections/request/10", 20, map[string]int64{"user_id": 20}); status != http.StatusConflict {
		t.Fatalf("duplicate request: expected 409, got %d", status)
	}
	if status, _ := srv.do(http.MethodPut, "/api/v1/connections/"+id+"/accept", 10, map[string]int64{"user_id": 10}); status != http.StatusForbidden {
		t.Fatalf("requester accepting: expected 403, got %d", status)
	}
	if status, _ := srv.do(http.MethodPut, "/api/v1/connections/"+id+"/reject", 20, map[string]int64{"user_id": 20}); status != http.StatusOK {
		t.Fatalf("reject: expected 200, got %d", status)
	}
	if status, _ := srv.do(http.MethodPut, "/api/v1/connections/"+id+"/accept", 20, map[string]int64{"user_id": 20}); status != http.StatusConflict {
		t.Fatalf("accept after reject: expected 409, got %d", status)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	srv := newTestServer(t, service.GatewayOptions{})
	for _, path := range []string{"/health", "/ready"} {
		status, resp := srv.do(http.MethodGet, path, 0, nil)
		if status != http.StatusOK || !resp.Success {
			t.Fatalf("%s: %d %+v", path, status, resp)
		}
	}
}

func TestPublicRoutesAreLimitedPerIP(t *testing.T) {
	srv := newTestServerWith(t, service.GatewayOptions{}, RouterConfig{
		IPRateLimit:     2,
		RateLimitWindow: time.Minute,
	})

	for i := 0; i < 2; i++ {
		if status, _ := srv.do(http.MethodGet, "/health", 0, nil); status != http.StatusOK {
			t.Fatalf("health %d: expected 200, got %d", i, status)
		}
	}
	if status, resp := srv.do(http.MethodGet, "/ready", 0, nil); status != http.StatusTooManyRequests || resp.Success {
		t.Fatalf("expected 429 on /ready, got %d %+v", status, resp)
	}
	// The limit applies before auth, so an unauthenticated upgrade is
	// rejected as limited rather than unauthorized.
	if status, _ := srv.do(http.MethodGet, "/ws", 0, nil); status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on /ws, got %d", status)
	}
	// Authenticated API routes use the per-user budget instead.
	if status, _ := srv.do(http.MethodGet, "/api/v1/connections/stats/10", 0, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected the API to answer 401, got %d", status)
	}
}

func TestStreamDeliversUserEvents(t *testing.T) {
	srv := newTestServer(t, service.GatewayOptions{}, 10, 20)
	watcher := srv.session(10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	token, _ := middleware.SignToken(testSecret, 20, time.Minute)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.url+"/api/v1/realtime/stream?access_token="+token, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := make(chan string, 32)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	waitLine(t, lines, "event: connected")
	if ev := waitEvent(t, watcher, model.EventJoin); ev.SenderID != 20 {
		t.Fatalf("expected a join from 20, got %+v", ev)
	}

	status, _ := srv.do(http.MethodPost, "/api/v1/messages/send", 10, map[string]any{
		"sender_id": 10, "receiver_id": 20, "content": "over sse",
	})
	if status != http.StatusCreated {
		t.Fatalf("send: %d", status)
	}

	waitLine(t, lines, "event: "+string(model.EventChat))
	if data := waitLine(t, lines, "data: "); !strings.Contains(data, "over sse") {
		t.Fatalf("unexpected data line %q", data)
	}
}

func waitLine(t *testing.T, lines <-chan string, prefix string) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream ended before %q", prefix)
			}
			if strings.HasPrefix(line, prefix) {
				return line
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", prefix)
			return ""
		}
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
