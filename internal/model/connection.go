package model

import (
	"time"
)

// ConnectionStatus is the lifecycle state of a connection.
type ConnectionStatus string

const (
	StatusPending   ConnectionStatus = "PENDING"
	StatusConnected ConnectionStatus = "CONNECTED"
	StatusRejected  ConnectionStatus = "REJECTED"
)

// Connection is a directed request between two users that may become a mutual link.
// PairKey is set while the row is PENDING or CONNECTED and cleared on rejection,
// so the unique index admits at most one live row per unordered pair.
type Connection struct {
	ID          int64            `json:"id" gorm:"primaryKey;autoIncrement"`
	RequesterID int64            `json:"requester_id" gorm:"index;not null"`
	ReceiverID  int64            `json:"receiver_id" gorm:"index;not null"`
	Status      ConnectionStatus `json:"status" gorm:"size:16;index;not null"`
	PairKey     *string          `json:"-" gorm:"uniqueIndex;size:64"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Involves reports whether userID is one of the two parties.
func (c *Connection) Involves(userID int64) bool {
	return c.RequesterID == userID || c.ReceiverID == userID
}

// Counterpart returns the other party relative to userID.
func (c *Connection) Counterpart(userID int64) int64 {
	if c.RequesterID == userID {
		return c.ReceiverID
	}
	return c.RequesterID
}

// ConnectionView is a connection seen from one of its parties.
type ConnectionView struct {
	ID              int64            `json:"id"`
	Status          ConnectionStatus `json:"status"`
	IsUserRequester bool             `json:"is_user_requester"`
	Counterpart     Participant      `json:"counterpart"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// ConnectionPage is one page of connection views.
type ConnectionPage struct {
	Connections []ConnectionView `json:"connections"`
	PageInfo
}

// ConnectionStats summarizes a user's network.
type ConnectionStats struct {
	UserID           int64 `json:"user_id"`
	ConnectionsCount int64 `json:"connections_count"`
	PendingCount     int64 `json:"pending_count"`
	SentCount        int64 `json:"sent_count"`
}

// ConnectionActionRequest carries the acting user for connection mutations.
type ConnectionActionRequest struct {
	UserID int64 `json:"user_id"`
}
