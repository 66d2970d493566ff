package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidConversationID is returned when a conversation id is not in "a_b" form.
var ErrInvalidConversationID = errors.New("invalid conversation id format")

// Message is a persisted direct message between two users.
// Content and participants never change after insert; IsRead only moves false -> true.
type Message struct {
	ID             int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	SenderID       int64     `json:"sender_id" gorm:"index;not null"`
	ReceiverID     int64     `json:"receiver_id" gorm:"index:idx_messages_receiver_read;not null"`
	Content        string    `json:"content" gorm:"type:text;not null"`
	IsRead         bool      `json:"is_read" gorm:"index:idx_messages_receiver_read;not null;default:false"`
	ConversationID string    `json:"conversation_id" gorm:"index;size:64;not null"`
	CreatedAt      time.Time `json:"created_at" gorm:"index"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ConversationID returns the canonical conversation id for two users.
// The smaller id always comes first, so the result is symmetric.
func ConversationID(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatInt(a, 10) + "_" + strconv.FormatInt(b, 10)
}

// ParseConversationID splits a canonical conversation id into its two user ids.
func ParseConversationID(id string) (int64, int64, error) {
	parts := strings.Split(id, "_")
	if len(parts) != 2 {
		return 0, 0, ErrInvalidConversationID
	}
	a, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || a <= 0 {
		return 0, 0, ErrInvalidConversationID
	}
	b, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || b <= 0 {
		return 0, 0, ErrInvalidConversationID
	}
	if ConversationID(a, b) != id {
		return 0, 0, fmt.Errorf("%w: ids must be ascending", ErrInvalidConversationID)
	}
	return a, b, nil
}

// Partner returns the other participant of the message relative to userID.
func (m *Message) Partner(userID int64) int64 {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
}

// MessagePage is one page of a message history.
type MessagePage struct {
	Messages []Message `json:"messages"`
	PageInfo
}

// PageInfo carries pagination metadata for list responses.
type PageInfo struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
}

// NewPageInfo computes page metadata from a total count.
func NewPageInfo(page, size int, total int64) PageInfo {
	pages := 0
	if size > 0 {
		pages = int((total + int64(size) - 1) / int64(size))
	}
	return PageInfo{
		CurrentPage: page,
		PageSize:    size,
		TotalItems:  total,
		TotalPages:  pages,
	}
}

// ReadResult reports how many messages flipped to read.
type ReadResult struct {
	ConversationID string `json:"conversation_id"`
	MarkedRead     int64  `json:"marked_read"`
}

// UnreadCount is the response for unread counters.
type UnreadCount struct {
	UserID    int64  `json:"user_id"`
	PartnerID *int64 `json:"partner_id,omitempty"`
	Count     int64  `json:"count"`
}
