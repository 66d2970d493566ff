package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/stageconnect/messaging-platform/internal/model"
	"github.com/stageconnect/messaging-platform/internal/store"
	"github.com/stageconnect/messaging-platform/pkg/logger"
	"github.com/stageconnect/messaging-platform/pkg/metrics"
)

// MaxContentLength bounds a message body in bytes.
const MaxContentLength = 10000

// ConversationService owns the durable message log and its read state.
type ConversationService struct {
	messages *store.MessageRepository
	profiles ProfileProvider
	logger   *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(messages *store.MessageRepository, profiles ProfileProvider, log *logger.Logger) *ConversationService {
	return &ConversationService{
		messages: messages,
		profiles: profiles,
		logger:   log,
	}
}

// Append validates and persists a message as unread.
func (s *ConversationService) Append(ctx context.Context, senderID, receiverID int64, content string) (*model.Message, error) {
	if err := s.validateNew(ctx, senderID, receiverID, content); err != nil {
		return nil, err
	}
	return s.insert(ctx, senderID, receiverID, content)
}

func (s *ConversationService) validateNew(ctx context.Context, senderID, receiverID int64, content string) error {
	if strings.TrimSpace(content) == "" {
		return newError(KindValidation, "message content cannot be empty")
	}
	if len(content) > MaxContentLength {
		return newError(KindValidation, "message content exceeds %d bytes", MaxContentLength)
	}
	if !utf8.ValidString(content) {
		return newError(KindValidation, "message content must be valid UTF-8")
	}
	if senderID == receiverID {
		return newError(KindValidation, "cannot send a message to yourself")
	}
	if err := ensureUser(ctx, s.profiles, senderID, "sender"); err != nil {
		return err
	}
	return ensureUser(ctx, s.profiles, receiverID, "receiver")
}

func (s *ConversationService) insert(ctx context.Context, senderID, receiverID int64, content string) (*model.Message, error) {
	msg := &model.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	metrics.MessagesSentTotal.Inc()
	s.logger.Debug("message stored",
		zap.Int64("message_id", msg.ID),
		zap.String("conversation_id", msg.ConversationID),
	)

	return msg, nil
}

// GetThread returns a page of the conversation between userID and partnerID in
// chronological order. Unread messages on the page addressed to userID are
// marked read; MarkedRead on the result counts them.
func (s *ConversationService) GetThread(ctx context.Context, userID, partnerID int64, page, size int) (*model.Thread, error) {
	if err := ensureUser(ctx, s.profiles, userID, "user"); err != nil {
		return nil, err
	}
	if err := ensureUser(ctx, s.profiles, partnerID, "partner"); err != nil {
		return nil, err
	}
	page, size = normalizePage(page, size)

	conversationID := model.ConversationID(userID, partnerID)
	msgs, total, err := s.messages.Page(ctx, conversationID, page, size)
	if err != nil {
		return nil, err
	}
	reverse(msgs)

	var unread []int64
	for _, m := range msgs {
		if m.ReceiverID == userID && !m.IsRead {
			unread = append(unread, m.ID)
		}
	}

	var marked int64
	if len(unread) > 0 {
		marked, err = s.messages.MarkRead(ctx, userID, partnerID, unread)
		if err != nil {
			return nil, err
		}
		for i := range msgs {
			if msgs[i].ReceiverID == userID {
				msgs[i].IsRead = true
			}
		}
		metrics.MessagesReadTotal.Add(float64(marked))
	}

	return &model.Thread{
		ID:         conversationID,
		Partner:    s.participant(ctx, partnerID),
		Messages:   msgs,
		MarkedRead: marked,
		PageInfo:   model.NewPageInfo(page, size, total),
	}, nil
}

// ListConversations returns one summary per partner, most recent activity first.
func (s *ConversationService) ListConversations(ctx context.Context, userID int64) ([]model.ConversationSummary, error) {
	if err := ensureUser(ctx, s.profiles, userID, "user"); err != nil {
		return nil, err
	}

	partners, err := s.messages.Partners(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]model.ConversationSummary, 0, len(partners))
	for _, partnerID := range partners {
		conversationID := model.ConversationID(userID, partnerID)
		summary := model.ConversationSummary{
			ID:      conversationID,
			Partner: s.participant(ctx, partnerID),
		}

		latest, err := s.messages.Latest(ctx, conversationID)
		switch {
		case err == nil:
			summary.LastMessage = &model.LastMessage{
				ID:        latest.ID,
				SenderID:  latest.SenderID,
				Content:   latest.Content,
				Timestamp: latest.CreatedAt,
				IsRead:    latest.IsRead || latest.SenderID == userID,
			}
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}

		summary.UnreadCount, err = s.messages.CountUnreadFrom(ctx, userID, partnerID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	sortByRecency(summaries)
	return summaries, nil
}

// MarkRead flips every unread message from partnerID to userID and returns
// how many changed.
func (s *ConversationService) MarkRead(ctx context.Context, userID, partnerID int64) (int64, error) {
	if err := ensureUser(ctx, s.profiles, userID, "user"); err != nil {
		return 0, err
	}
	if err := ensureUser(ctx, s.profiles, partnerID, "partner"); err != nil {
		return 0, err
	}

	marked, err := s.messages.MarkRead(ctx, userID, partnerID, nil)
	if err != nil {
		return 0, err
	}
	metrics.MessagesReadTotal.Add(float64(marked))
	return marked, nil
}

// UnreadCount counts all unread messages addressed to userID.
func (s *ConversationService) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	if err := ensureUser(ctx, s.profiles, userID, "user"); err != nil {
		return 0, err
	}
	return s.messages.CountUnread(ctx, userID)
}

// UnreadCountFrom counts unread messages from partnerID to userID.
func (s *ConversationService) UnreadCountFrom(ctx context.Context, userID, partnerID int64) (int64, error) {
	if err := ensureUser(ctx, s.profiles, userID, "user"); err != nil {
		return 0, err
	}
	return s.messages.CountUnreadFrom(ctx, userID, partnerID)
}

// ByConversationID returns a chronological page of a conversation addressed by
// its canonical id. The viewer must be one of the two participants. Read
// state is left untouched.
func (s *ConversationService) ByConversationID(ctx context.Context, viewerID int64, conversationID string, page, size int) (*model.MessagePage, error) {
	a, b, err := model.ParseConversationID(conversationID)
	if err != nil {
		return nil, newError(KindValidation, "conversation id must have the form <smallerId>_<largerId>")
	}
	if viewerID != a && viewerID != b {
		return nil, newError(KindForbidden, "not a participant of conversation %s", conversationID)
	}
	page, size = normalizePage(page, size)

	msgs, total, err := s.messages.Page(ctx, conversationID, page, size)
	if err != nil {
		return nil, err
	}
	reverse(msgs)

	return &model.MessagePage{
		Messages: msgs,
		PageInfo: model.NewPageInfo(page, size, total),
	}, nil
}

func (s *ConversationService) participant(ctx context.Context, id int64) model.Participant {
	p, err := s.profiles.Summary(ctx, id)
	if err != nil {
		s.logger.Warn("failed to resolve profile", zap.Int64("user_id", id), zap.Error(err))
		return model.UnknownParticipant(id)
	}
	return p
}

func reverse(msgs []model.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// sortByRecency orders summaries by latest message, newest first; summaries
// without a message go last.
func sortByRecency(summaries []model.ConversationSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i].LastMessage, summaries[j].LastMessage
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Timestamp.Equal(b.Timestamp):
			return a.ID > b.ID
		default:
			return a.Timestamp.After(b.Timestamp)
		}
	})
}
