package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/stageconnect/messaging-platform/internal/model"
)

// ConnectionRepository persists connection rows.
type ConnectionRepository struct {
	db *gorm.DB
}

// NewConnectionRepository creates a new connection repository.
func NewConnectionRepository(db *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// PairKey returns the unordered key of two users.
func PairKey(a, b int64) string {
	return model.ConversationID(a, b)
}

// Create inserts a PENDING connection. It returns ErrDuplicate when a live
// row already exists for the pair.
func (r *ConnectionRepository) Create(ctx context.Context, requesterID, receiverID int64) (*model.Connection, error) {
	key := PairKey(requesterID, receiverID)
	conn := &model.Connection{
		RequesterID: requesterID,
		ReceiverID:  receiverID,
		Status:      model.StatusPending,
		PairKey:     &key,
	}
	if err := r.db.WithContext(ctx).Create(conn).Error; err != nil {
		return nil, translate(err)
	}
	return conn, nil
}

// Get loads a connection by id.
func (r *ConnectionRepository) Get(ctx context.Context, id int64) (*model.Connection, error) {
	var conn model.Connection
	if err := r.db.WithContext(ctx).First(&conn, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &conn, nil
}

// FindLive returns the PENDING or CONNECTED row for a pair, in either direction.
func (r *ConnectionRepository) FindLive(ctx context.Context, a, b int64) (*model.Connection, error) {
	var conn model.Connection
	err := r.db.WithContext(ctx).
		Where("((requester_id = ? AND receiver_id = ?) OR (requester_id = ? AND receiver_id = ?))", a, b, b, a).
		Where("status IN ?", []model.ConnectionStatus{model.StatusPending, model.StatusConnected}).
		First(&conn).Error
	if err != nil {
		return nil, translate(err)
	}
	return &conn, nil
}

// IsConnected reports whether a CONNECTED row exists for the pair.
func (r *ConnectionRepository) IsConnected(ctx context.Context, a, b int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Connection{}).
		Where("((requester_id = ? AND receiver_id = ?) OR (requester_id = ? AND receiver_id = ?))", a, b, b, a).
		Where("status = ?", model.StatusConnected).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check connection: %w", err)
	}
	return count > 0, nil
}

// Transition moves a connection from one status to another. The update only
// applies while the row is still in the expected status; the returned bool
// reports whether it did.
func (r *ConnectionRepository) Transition(ctx context.Context, id int64, from, to model.ConnectionStatus) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if to == model.StatusRejected {
		updates["pair_key"] = nil
	}
	res := r.db.WithContext(ctx).Model(&model.Connection{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update connection: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// DeleteConnected removes a connection that is still CONNECTED.
func (r *ConnectionRepository) DeleteConnected(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, model.StatusConnected).
		Delete(&model.Connection{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete connection: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ListConnected returns a page of the user's CONNECTED rows, newest first.
func (r *ConnectionRepository) ListConnected(ctx context.Context, userID int64, page, size int) ([]model.Connection, int64, error) {
	return r.page(r.connected(ctx, userID), page, size)
}

// ListIncoming returns a page of PENDING requests addressed to the user.
func (r *ConnectionRepository) ListIncoming(ctx context.Context, userID int64, page, size int) ([]model.Connection, int64, error) {
	return r.page(r.incoming(ctx, userID), page, size)
}

// ListOutgoing returns a page of PENDING requests the user sent.
func (r *ConnectionRepository) ListOutgoing(ctx context.Context, userID int64, page, size int) ([]model.Connection, int64, error) {
	return r.page(r.outgoing(ctx, userID), page, size)
}

// Counts returns the number of connected, incoming and outgoing rows of a user.
func (r *ConnectionRepository) Counts(ctx context.Context, userID int64) (connected, incoming, outgoing int64, err error) {
	if err = r.connected(ctx, userID).Count(&connected).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count connections: %w", err)
	}
	if err = r.incoming(ctx, userID).Count(&incoming).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count incoming requests: %w", err)
	}
	if err = r.outgoing(ctx, userID).Count(&outgoing).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count outgoing requests: %w", err)
	}
	return connected, incoming, outgoing, nil
}

func (r *ConnectionRepository) connected(ctx context.Context, userID int64) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.Connection{}).
		Where("(requester_id = ? OR receiver_id = ?) AND status = ?", userID, userID, model.StatusConnected)
}

func (r *ConnectionRepository) incoming(ctx context.Context, userID int64) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.Connection{}).
		Where("receiver_id = ? AND status = ?", userID, model.StatusPending)
}

func (r *ConnectionRepository) outgoing(ctx context.Context, userID int64) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.Connection{}).
		Where("requester_id = ? AND status = ?", userID, model.StatusPending)
}

func (r *ConnectionRepository) page(q *gorm.DB, page, size int) ([]model.Connection, int64, error) {
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count connections: %w", err)
	}

	var conns []model.Connection
	err := q.Order("updated_at DESC").Order("id DESC").
		Offset(offset(page, size)).Limit(size).
		Find(&conns).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, total, nil
}
