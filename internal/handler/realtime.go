package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stageconnect/messaging-platform/internal/model"
	"github.com/stageconnect/messaging-platform/internal/realtime"
	"github.com/stageconnect/messaging-platform/pkg/logger"
	"github.com/stageconnect/messaging-platform/pkg/ratelimit"
)

const sseHeartbeatInterval = 30 * time.Second

// RealtimeHandler upgrades clients to WebSocket sessions and serves the SSE
// fallback stream.
type RealtimeHandler struct {
	hub        *realtime.Hub
	dispatcher realtime.Dispatcher
	limiter    *ratelimit.KeyedLimiter
	upgrader   websocket.Upgrader
	logger     *logger.Logger
}

// NewRealtimeHandler creates a new realtime handler. An empty origin list
// accepts any origin.
func NewRealtimeHandler(
	hub *realtime.Hub,
	dispatcher realtime.Dispatcher,
	limiter *ratelimit.KeyedLimiter,
	allowedOrigins []string,
	log *logger.Logger,
) *RealtimeHandler {
	return &RealtimeHandler{
		hub:        hub,
		dispatcher: dispatcher,
		limiter:    limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: log,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// WebSocket handles GET /ws
func (h *RealtimeHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireSubject(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the failure response.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := realtime.NewClient(h.hub, conn, userID, h.dispatcher, h.limiter, h.logger)
	client.Serve(r.Context())
}

// Stream handles GET /api/v1/realtime/stream. The session is bound to the
// authenticated user for its whole life and is read-only.
func (h *RealtimeHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireSubject(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// The server write timeout would otherwise cut the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	session := realtime.NewSession(realtime.TransportSSE, 0)
	h.hub.Register(session)
	defer h.hub.Unregister(context.WithoutCancel(ctx), session)
	h.hub.Subscribe(session, userID)
	if err := h.dispatcher.Join(ctx, userID); err != nil {
		h.logger.Warn("SSE join failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	if err := sendSSEEvent(w, flusher, "connected", map[string]any{
		"session_id": session.ID(),
		"user_id":    userID,
	}); err != nil {
		return
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("session_id", session.ID()))
			return

		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			if err := sendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			}); err != nil {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
