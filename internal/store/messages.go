package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/stageconnect/messaging-platform/internal/model"
)

// MessageRepository persists direct messages.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts a message. ConversationID and IsRead are derived here.
func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) error {
	msg.ConversationID = model.ConversationID(msg.SenderID, msg.ReceiverID)
	msg.IsRead = false
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// Page returns one page of a conversation ordered newest first, plus the
// conversation's total message count.
func (r *MessageRepository) Page(ctx context.Context, conversationID string, page, size int) ([]model.Message, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Message{}).Where("conversation_id = ?", conversationID).
		Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	var msgs []model.Message
	err := q.Order("created_at DESC").Order("id DESC").
		Offset(offset(page, size)).Limit(size).
		Find(&msgs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, total, nil
}

// Latest returns the newest message of a conversation or ErrNotFound.
func (r *MessageRepository) Latest(ctx context.Context, conversationID string) (*model.Message, error) {
	var msg model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").Order("id DESC").
		First(&msg).Error
	if err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

// Partners returns the distinct ids the user has exchanged messages with.
func (r *MessageRepository) Partners(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT DISTINCT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS partner_id
		 FROM messages WHERE sender_id = ? OR receiver_id = ?`,
		userID, userID, userID,
	).Scan(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list partners: %w", err)
	}
	return ids, nil
}

// MarkRead flips unread messages from senderID to receiverID. When ids is
// non-empty only those messages are considered. The update is conditional on
// is_read = false, so repeating it changes nothing.
func (r *MessageRepository) MarkRead(ctx context.Context, receiverID, senderID int64, ids []int64) (int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("receiver_id = ? AND sender_id = ? AND is_read = ?", receiverID, senderID, false)
	if ids != nil {
		if len(ids) == 0 {
			return 0, nil
		}
		q = q.Where("id IN ?", ids)
	}
	res := q.Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountUnread counts unread messages addressed to the user.
func (r *MessageRepository) CountUnread(ctx context.Context, receiverID int64) (int64, error) {
	return r.countUnread(r.db.WithContext(ctx).Where("receiver_id = ?", receiverID))
}

// CountUnreadFrom counts unread messages sent by senderID to receiverID.
func (r *MessageRepository) CountUnreadFrom(ctx context.Context, receiverID, senderID int64) (int64, error) {
	return r.countUnread(r.db.WithContext(ctx).Where("receiver_id = ? AND sender_id = ?", receiverID, senderID))
}

func (r *MessageRepository) countUnread(q *gorm.DB) (int64, error) {
	var count int64
	if err := q.Model(&model.Message{}).Where("is_read = ?", false).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}
