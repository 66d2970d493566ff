package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stageconnect/messaging-platform/internal/model"
	"github.com/stageconnect/messaging-platform/internal/store"
	"github.com/stageconnect/messaging-platform/pkg/logger"
	"github.com/stageconnect/messaging-platform/pkg/metrics"
)

// ConnectionService manages the connection request lifecycle.
type ConnectionService struct {
	repo      *store.ConnectionRepository
	profiles  ProfileProvider
	publisher Publisher
	logger    *logger.Logger
}

// NewConnectionService creates a new connection service.
func NewConnectionService(
	repo *store.ConnectionRepository,
	profiles ProfileProvider,
	publisher Publisher,
	log *logger.Logger,
) *ConnectionService {
	return &ConnectionService{
		repo:      repo,
		profiles:  profiles,
		publisher: publisher,
		logger:    log,
	}
}

// Request creates a PENDING connection from requesterID to receiverID.
func (s *ConnectionService) Request(ctx context.Context, requesterID, receiverID int64) (*model.Connection, error) {
	if requesterID == receiverID {
		return nil, newError(KindValidation, "cannot send a connection request to yourself")
	}
	if err := s.ensureUser(ctx, requesterID, "requester"); err != nil {
		return nil, err
	}
	if err := s.ensureUser(ctx, receiverID, "receiver"); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindLive(ctx, requesterID, receiverID)
	switch {
	case err == nil:
		if existing.Status == model.StatusConnected {
			return nil, newError(KindConflict, "users are already connected")
		}
		return nil, newError(KindConflict, "a connection request is already pending between these users")
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to look up connection: %w", err)
	}

	conn, err := s.repo.Create(ctx, requesterID, receiverID)
	if errors.Is(err, store.ErrDuplicate) {
		// A concurrent request for the same pair won the insert.
		return nil, newError(KindConflict, "a connection request is already pending between these users")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	metrics.RecordTransition("requested")
	s.logger.Info("connection requested",
		zap.Int64("connection_id", conn.ID),
		zap.Int64("requester_id", requesterID),
		zap.Int64("receiver_id", receiverID),
	)
	s.notify(ctx, conn, receiverID, requesterID)

	return conn, nil
}

// Accept moves a PENDING connection to CONNECTED. Only the receiver may accept.
func (s *ConnectionService) Accept(ctx context.Context, connectionID, actingUserID int64) (*model.Connection, error) {
	return s.respond(ctx, connectionID, actingUserID, model.StatusConnected, "accepted")
}

// Reject moves a PENDING connection to REJECTED. Only the receiver may reject.
func (s *ConnectionService) Reject(ctx context.Context, connectionID, actingUserID int64) (*model.Connection, error) {
	return s.respond(ctx, connectionID, actingUserID, model.StatusRejected, "rejected")
}

func (s *ConnectionService) respond(ctx context.Context, connectionID, actingUserID int64, to model.ConnectionStatus, transition string) (*model.Connection, error) {
	conn, err := s.get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.ReceiverID != actingUserID {
		return nil, newError(KindForbidden, "only the receiver can respond to this connection request")
	}
	if conn.Status != model.StatusPending {
		return nil, newError(KindInvalidState, "connection request is not pending")
	}

	ok, err := s.repo.Transition(ctx, connectionID, model.StatusPending, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(KindInvalidState, "connection request is not pending")
	}

	conn.Status = to
	conn.UpdatedAt = time.Now()
	if to == model.StatusRejected {
		conn.PairKey = nil
	}

	metrics.RecordTransition(transition)
	s.logger.Info("connection "+transition,
		zap.Int64("connection_id", conn.ID),
		zap.Int64("acting_user_id", actingUserID),
	)
	s.notify(ctx, conn, conn.RequesterID, actingUserID)

	return conn, nil
}

// Remove deletes a CONNECTED connection. Either party may remove it.
func (s *ConnectionService) Remove(ctx context.Context, connectionID, actingUserID int64) error {
	conn, err := s.get(ctx, connectionID)
	if err != nil {
		return err
	}
	if !conn.Involves(actingUserID) {
		return newError(KindForbidden, "only a party of the connection can remove it")
	}
	if conn.Status != model.StatusConnected {
		return newError(KindInvalidState, "only established connections can be removed")
	}

	ok, err := s.repo.DeleteConnected(ctx, connectionID)
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindInvalidState, "only established connections can be removed")
	}

	metrics.RecordTransition("removed")
	s.logger.Info("connection removed",
		zap.Int64("connection_id", conn.ID),
		zap.Int64("acting_user_id", actingUserID),
	)

	removed := *conn
	removed.Status = ""
	s.notify(ctx, &removed, conn.Counterpart(actingUserID), actingUserID)

	return nil
}

// IsConnected reports whether a CONNECTED row exists between a and b.
func (s *ConnectionService) IsConnected(ctx context.Context, a, b int64) (bool, error) {
	if a == b {
		return false, nil
	}
	return s.repo.IsConnected(ctx, a, b)
}

// ListConnected returns the user's established connections.
func (s *ConnectionService) ListConnected(ctx context.Context, userID int64, page, size int) (*model.ConnectionPage, error) {
	return s.list(ctx, userID, page, size, s.repo.ListConnected)
}

// ListPending returns connection requests awaiting the user's response.
func (s *ConnectionService) ListPending(ctx context.Context, userID int64, page, size int) (*model.ConnectionPage, error) {
	return s.list(ctx, userID, page, size, s.repo.ListIncoming)
}

// ListSent returns connection requests the user sent that are still pending.
func (s *ConnectionService) ListSent(ctx context.Context, userID int64, page, size int) (*model.ConnectionPage, error) {
	return s.list(ctx, userID, page, size, s.repo.ListOutgoing)
}

type connectionLister func(ctx context.Context, userID int64, page, size int) ([]model.Connection, int64, error)

func (s *ConnectionService) list(ctx context.Context, userID int64, page, size int, fetch connectionLister) (*model.ConnectionPage, error) {
	if err := s.ensureUser(ctx, userID, "user"); err != nil {
		return nil, err
	}
	page, size = normalizePage(page, size)

	conns, total, err := fetch(ctx, userID, page, size)
	if err != nil {
		return nil, err
	}

	views := make([]model.ConnectionView, 0, len(conns))
	for i := range conns {
		views = append(views, s.view(ctx, &conns[i], userID))
	}

	return &model.ConnectionPage{
		Connections: views,
		PageInfo:    model.NewPageInfo(page, size, total),
	}, nil
}

// Stats counts the user's connections and open requests.
func (s *ConnectionService) Stats(ctx context.Context, userID int64) (*model.ConnectionStats, error) {
	if err := s.ensureUser(ctx, userID, "user"); err != nil {
		return nil, err
	}
	connected, pending, sent, err := s.repo.Counts(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.ConnectionStats{
		UserID:           userID,
		ConnectionsCount: connected,
		PendingCount:     pending,
		SentCount:        sent,
	}, nil
}

// View returns the connection as seen by userID.
func (s *ConnectionService) View(ctx context.Context, conn *model.Connection, userID int64) model.ConnectionView {
	return s.view(ctx, conn, userID)
}

func (s *ConnectionService) view(ctx context.Context, conn *model.Connection, userID int64) model.ConnectionView {
	counterpartID := conn.Counterpart(userID)
	counterpart, err := s.profiles.Summary(ctx, counterpartID)
	if err != nil {
		s.logger.Warn("failed to resolve counterpart profile",
			zap.Int64("user_id", counterpartID),
			zap.Error(err),
		)
		counterpart = model.UnknownParticipant(counterpartID)
	}
	return model.ConnectionView{
		ID:              conn.ID,
		Status:          conn.Status,
		IsUserRequester: conn.RequesterID == userID,
		Counterpart:     counterpart,
		CreatedAt:       conn.CreatedAt,
		UpdatedAt:       conn.UpdatedAt,
	}
}

func (s *ConnectionService) get(ctx context.Context, connectionID int64) (*model.Connection, error) {
	conn, err := s.repo.Get(ctx, connectionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(KindNotFound, "connection %d not found", connectionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	return conn, nil
}

func (s *ConnectionService) ensureUser(ctx context.Context, id int64, role string) error {
	return ensureUser(ctx, s.profiles, id, role)
}

// notify tells the counterpart about a lifecycle change.
func (s *ConnectionService) notify(ctx context.Context, conn *model.Connection, recipientID, actorID int64) {
	if s.publisher == nil {
		return
	}
	ev := model.Event{
		Type:         model.EventConnection,
		SenderID:     actorID,
		ReceiverID:   recipientID,
		ConnectionID: conn.ID,
		Status:       conn.Status,
		Timestamp:    time.Now(),
	}
	// Removed rows have no status left.
	if conn.Status == "" {
		ev.Content = "removed"
	}
	s.publisher.Publish(ctx, model.UserTopic(recipientID), ev)
}

func ensureUser(ctx context.Context, profiles ProfileProvider, id int64, role string) error {
	if id <= 0 {
		return newError(KindValidation, "%s id must be positive", role)
	}
	ok, err := profiles.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", role, err)
	}
	if !ok {
		return newError(KindNotFound, "%s %d not found", role, id)
	}
	return nil
}
