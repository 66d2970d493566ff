package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stageconnect/messaging-platform/internal/model"
	"github.com/stageconnect/messaging-platform/pkg/logger"
)

// GatewayOptions configures the messaging gateway.
type GatewayOptions struct {
	// RequireConnection rejects sends between users that are not connected.
	RequireConnection bool
}

// Gateway orchestrates sends and reads across the connection graph, the
// conversation store and realtime fan-out.
type Gateway struct {
	connections   *ConnectionService
	conversations *ConversationService
	publisher     Publisher
	opts          GatewayOptions
	tracer        trace.Tracer
	logger        *logger.Logger
}

// NewGateway creates a new messaging gateway.
func NewGateway(
	connections *ConnectionService,
	conversations *ConversationService,
	publisher Publisher,
	opts GatewayOptions,
	log *logger.Logger,
) *Gateway {
	return &Gateway{
		connections:   connections,
		conversations: conversations,
		publisher:     publisher,
		opts:          opts,
		tracer:        otel.Tracer("github.com/stageconnect/messaging-platform/internal/service"),
		logger:        log,
	}
}

// SendMessage persists a message and then publishes CHAT to both parties.
// Nothing is published when validation or persistence fails.
func (g *Gateway) SendMessage(ctx context.Context, senderID, receiverID int64, content string) (msg *model.Message, err error) {
	ctx, span := g.tracer.Start(ctx, "Gateway.SendMessage", trace.WithAttributes(
		attribute.Int64("sender_id", senderID),
		attribute.Int64("receiver_id", receiverID),
	))
	defer func() { endSpan(span, err) }()

	if err := g.conversations.validateNew(ctx, senderID, receiverID, content); err != nil {
		return nil, err
	}

	if g.opts.RequireConnection {
		connected, err := g.connections.IsConnected(ctx, senderID, receiverID)
		if err != nil {
			return nil, err
		}
		if !connected {
			return nil, newError(KindForbidden, "users must be connected to exchange messages")
		}
	}

	msg, err = g.conversations.insert(ctx, senderID, receiverID, content)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("message_id", msg.ID))

	ev := model.ChatEvent(msg)
	g.publisher.Publish(ctx, model.UserTopic(receiverID), ev)
	g.publisher.Publish(ctx, model.UserTopic(senderID), ev)

	g.logger.Info("message sent",
		zap.Int64("message_id", msg.ID),
		zap.String("conversation_id", msg.ConversationID),
	)
	return msg, nil
}

// GetConversation returns a thread page for userID and tells the partner when
// the fetch marked any of their messages read.
func (g *Gateway) GetConversation(ctx context.Context, userID, partnerID int64, page, size int) (thread *model.Thread, err error) {
	ctx, span := g.tracer.Start(ctx, "Gateway.GetConversation", trace.WithAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("partner_id", partnerID),
	))
	defer func() { endSpan(span, err) }()

	thread, err = g.conversations.GetThread(ctx, userID, partnerID, page, size)
	if err != nil {
		return nil, err
	}
	g.publishRead(ctx, userID, partnerID, thread.MarkedRead)
	return thread, nil
}

// ListConversations returns the user's conversation summaries.
func (g *Gateway) ListConversations(ctx context.Context, userID int64) ([]model.ConversationSummary, error) {
	return g.conversations.ListConversations(ctx, userID)
}

// MarkRead marks the partner's messages read and notifies the partner.
func (g *Gateway) MarkRead(ctx context.Context, userID, partnerID int64) (marked int64, err error) {
	ctx, span := g.tracer.Start(ctx, "Gateway.MarkRead", trace.WithAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("partner_id", partnerID),
	))
	defer func() { endSpan(span, err) }()

	marked, err = g.conversations.MarkRead(ctx, userID, partnerID)
	if err != nil {
		return 0, err
	}
	g.publishRead(ctx, userID, partnerID, marked)
	return marked, nil
}

// UnreadCount counts unread messages addressed to userID.
func (g *Gateway) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	return g.conversations.UnreadCount(ctx, userID)
}

// UnreadCountFrom counts unread messages from partnerID to userID.
func (g *Gateway) UnreadCountFrom(ctx context.Context, userID, partnerID int64) (int64, error) {
	return g.conversations.UnreadCountFrom(ctx, userID, partnerID)
}

// ByConversationID returns a page of a conversation addressed by id.
func (g *Gateway) ByConversationID(ctx context.Context, viewerID int64, conversationID string, page, size int) (*model.MessagePage, error) {
	return g.conversations.ByConversationID(ctx, viewerID, conversationID, page, size)
}

// Typing notifies receiverID that senderID is typing. Nothing is persisted.
func (g *Gateway) Typing(ctx context.Context, senderID, receiverID int64) error {
	if senderID == receiverID {
		return newError(KindValidation, "cannot send typing notifications to yourself")
	}
	if err := ensureUser(ctx, g.conversations.profiles, receiverID, "receiver"); err != nil {
		return err
	}
	g.publisher.Publish(ctx, model.UserTopic(receiverID), model.Event{
		Type:           model.EventTyping,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		ConversationID: model.ConversationID(senderID, receiverID),
		Timestamp:      time.Now(),
	})
	return nil
}

// Join announces userID on the public topic.
func (g *Gateway) Join(ctx context.Context, userID int64) error {
	if err := ensureUser(ctx, g.conversations.profiles, userID, "user"); err != nil {
		return err
	}
	g.publisher.Publish(ctx, model.PublicTopic, model.Event{
		Type:      model.EventJoin,
		SenderID:  userID,
		Timestamp: time.Now(),
	})
	return nil
}

func (g *Gateway) publishRead(ctx context.Context, readerID, senderID int64, marked int64) {
	if marked <= 0 {
		return
	}
	g.publisher.Publish(ctx, model.UserTopic(senderID), model.Event{
		Type:           model.EventRead,
		SenderID:       readerID,
		ReceiverID:     senderID,
		ConversationID: model.ConversationID(readerID, senderID),
		Count:          marked,
		Timestamp:      time.Now(),
	})
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
