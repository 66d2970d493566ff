package model

import (
	"strconv"
	"strings"
	"time"
)

// EventType is the kind of a realtime event.
type EventType string

const (
	EventChat       EventType = "CHAT"
	EventTyping     EventType = "TYPING"
	EventJoin       EventType = "JOIN"
	EventLeave      EventType = "LEAVE"
	EventRead       EventType = "READ"
	EventConnection EventType = "CONNECTION"
	EventError      EventType = "ERROR"
)

// PublicTopic is the broadcast topic every session receives.
const PublicTopic = "public"

const userTopicPrefix = "user:"

// UserTopic returns the private topic of a user.
func UserTopic(userID int64) string {
	return userTopicPrefix + strconv.FormatInt(userID, 10)
}

// ParseUserTopic extracts the user id from a "user:{id}" topic.
func ParseUserTopic(topic string) (int64, bool) {
	if !strings.HasPrefix(topic, userTopicPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(topic, userTopicPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Event is the payload delivered to realtime sessions.
type Event struct {
	Type           EventType        `json:"type"`
	SenderID       int64            `json:"sender_id,omitempty"`
	ReceiverID     int64            `json:"receiver_id,omitempty"`
	Content        string           `json:"content,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
	MessageID      int64            `json:"message_id,omitempty"`
	ConnectionID   int64            `json:"connection_id,omitempty"`
	Status         ConnectionStatus `json:"status,omitempty"`
	Count          int64            `json:"count,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// ChatEvent builds the CHAT event for a persisted message.
func ChatEvent(m *Message) Event {
	return Event{
		Type:           EventChat,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		Timestamp:      m.CreatedAt,
	}
}

// HeartbeatEvent keeps idle streams open.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
