package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stageconnect/messaging-platform/internal/model"
	"github.com/stageconnect/messaging-platform/internal/service"
	"github.com/stageconnect/messaging-platform/pkg/logger"
	"github.com/stageconnect/messaging-platform/pkg/metrics"
	"github.com/stageconnect/messaging-platform/pkg/ratelimit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// Client actions accepted over the WebSocket.
const (
	ActionSend   = "chat.send"
	ActionJoin   = "chat.join"
	ActionTyping = "chat.typing"
	ActionRead   = "chat.read"
)

// Dispatcher executes client actions on behalf of a session's user.
type Dispatcher interface {
	SendMessage(ctx context.Context, senderID, receiverID int64, content string) (*model.Message, error)
	Typing(ctx context.Context, senderID, receiverID int64) error
	Join(ctx context.Context, userID int64) error
	MarkRead(ctx context.Context, userID, partnerID int64) (int64, error)
}

// InboundFrame is a client action sent over the WebSocket.
type InboundFrame struct {
	Action     string `json:"action"`
	ReceiverID int64  `json:"receiver_id,omitempty"`
	PartnerID  int64  `json:"partner_id,omitempty"`
	Content    string `json:"content,omitempty"`
}

// Client pumps one WebSocket connection. The authenticated user is fixed at
// upgrade time; actions always act as that user.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	session    *Session
	userID     int64
	dispatcher Dispatcher
	limiter    *ratelimit.KeyedLimiter
	logger     *logger.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(
	hub *Hub,
	conn *websocket.Conn,
	userID int64,
	dispatcher Dispatcher,
	limiter *ratelimit.KeyedLimiter,
	log *logger.Logger,
) *Client {
	session := NewSession(TransportWebSocket, defaultSendBuffer)
	return &Client{
		hub:        hub,
		conn:       conn,
		session:    session,
		userID:     userID,
		dispatcher: dispatcher,
		limiter:    limiter,
		logger:     log.With(zap.String("session_id", session.ID()), zap.Int64("user_id", userID)),
	}
}

// Session returns the client's hub session.
func (c *Client) Session() *Session {
	return c.session
}

// Serve registers the session and runs both pumps until the connection ends.
// It blocks until the read side closes.
func (c *Client) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.hub.Register(c.session)
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		// Runs on every exit path, including abnormal closes.
		c.hub.Unregister(context.WithoutCancel(ctx), c.session)
		c.limiter.Forget(c.session.ID())
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}

		if !c.limiter.Allow(c.session.ID(), time.Now()) {
			metrics.InboundThrottledTotal.Inc()
			c.sendError("rate limit exceeded")
			continue
		}

		var frame InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError("invalid frame")
			continue
		}
		c.handle(ctx, &frame)
	}
}

func (c *Client) handle(ctx context.Context, frame *InboundFrame) {
	var err error
	switch frame.Action {
	case ActionJoin:
		c.hub.Subscribe(c.session, c.userID)
		err = c.dispatcher.Join(ctx, c.userID)
	case ActionSend:
		_, err = c.dispatcher.SendMessage(ctx, c.userID, frame.ReceiverID, frame.Content)
	case ActionTyping:
		err = c.dispatcher.Typing(ctx, c.userID, frame.ReceiverID)
	case ActionRead:
		_, err = c.dispatcher.MarkRead(ctx, c.userID, frame.PartnerID)
	default:
		c.sendError("unsupported action " + strconv.Quote(frame.Action))
		return
	}
	if err != nil {
		c.logger.Debug("client action failed", zap.String("action", frame.Action), zap.Error(err))
		c.sendError(errorText(err))
	}
}

func (c *Client) sendError(text string) {
	c.hub.Send(c.session, model.Event{
		Type:       model.EventError,
		ReceiverID: c.userID,
		Content:    text,
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.session.Events():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the queue.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func errorText(err error) string {
	if msg := service.MessageOf(err); msg != "" {
		return msg
	}
	if errors.Is(err, context.Canceled) {
		return "request canceled"
	}
	return "internal error"
}
