// Package model defines data structures for the messaging platform.
package model

import (
	"time"
)

// ConversationSummary is the derived per-partner view of a user's messages.
type ConversationSummary struct {
	ID          string       `json:"id"`
	Partner     Participant  `json:"partner"`
	LastMessage *LastMessage `json:"last_message,omitempty"`
	UnreadCount int64        `json:"unread_count"`
}

// LastMessage is the most recent message of a conversation.
// IsRead is relative to the viewer: a message the viewer sent counts as read.
type LastMessage struct {
	ID        int64     `json:"id"`
	SenderID  int64     `json:"sender_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsRead    bool      `json:"is_read"`
}

// Thread is a page of a two-party conversation seen by one of its participants.
type Thread struct {
	ID         string      `json:"id"`
	Partner    Participant `json:"partner"`
	Messages   []Message   `json:"messages"`
	MarkedRead int64       `json:"marked_read"`
	PageInfo
}
