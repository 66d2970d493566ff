package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/stageconnect/messaging-platform/internal/model"
	"github.com/stageconnect/messaging-platform/internal/service"
	"github.com/stageconnect/messaging-platform/pkg/logger"
)

// ConnectionHandler handles connection endpoints.
type ConnectionHandler struct {
	connections *service.ConnectionService
	logger      *logger.Logger
}

// NewConnectionHandler creates a new connection handler.
func NewConnectionHandler(connections *service.ConnectionService, log *logger.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		connections: connections,
		logger:      log,
	}
}

// Request handles POST /api/v1/connections/request/{receiverId}
func (h *ConnectionHandler) Request(w http.ResponseWriter, r *http.Request) {
	receiverID, err := parseID(r, "receiverId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid receiver id")
		return
	}

	var req model.ConnectionActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !requireActor(w, r, req.UserID) {
		return
	}

	conn, err := h.connections.Request(r.Context(), req.UserID, receiverID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "connection request sent", h.connections.View(r.Context(), conn, req.UserID))
}

// Accept handles PUT /api/v1/connections/{id}/accept
func (h *ConnectionHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.connections.Accept, "connection request accepted")
}

// Reject handles PUT /api/v1/connections/{id}/reject
func (h *ConnectionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.connections.Reject, "connection request rejected")
}

type responder func(ctx context.Context, connectionID, actingUserID int64) (*model.Connection, error)

func (h *ConnectionHandler) respond(w http.ResponseWriter, r *http.Request, fn responder, message string) {
	connectionID, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}

	var req model.ConnectionActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !requireActor(w, r, req.UserID) {
		return
	}

	conn, err := fn(r.Context(), connectionID, req.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, message, h.connections.View(r.Context(), conn, req.UserID))
}

// Remove handles DELETE /api/v1/connections/{id}?userId=
func (h *ConnectionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	connectionID, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}

	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}
	if !requireActor(w, r, userID) {
		return
	}

	if err := h.connections.Remove(r.Context(), connectionID, userID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "connection removed", nil)
}

// ListConnected handles GET /api/v1/connections/user/{userId}
func (h *ConnectionHandler) ListConnected(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.connections.ListConnected)
}

// ListPending handles GET /api/v1/connections/pending/{userId}
func (h *ConnectionHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.connections.ListPending)
}

// ListSent handles GET /api/v1/connections/sent/{userId}
func (h *ConnectionHandler) ListSent(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.connections.ListSent)
}

type lister func(ctx context.Context, userID int64, page, size int) (*model.ConnectionPage, error)

func (h *ConnectionHandler) list(w http.ResponseWriter, r *http.Request, fn lister) {
	userID, err := parseID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if !requireActor(w, r, userID) {
		return
	}

	page, size := parsePage(r)
	result, err := fn(r.Context(), userID, page, size)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", result)
}

// Stats handles GET /api/v1/connections/stats/{userId}
func (h *ConnectionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if !requireActor(w, r, userID) {
		return
	}

	stats, err := h.connections.Stats(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", stats)
}

// connectionStatus is the response of the status check.
type connectionStatus struct {
	UserID    int64 `json:"user_id"`
	OtherID   int64 `json:"other_id"`
	Connected bool  `json:"connected"`
}

// Status handles GET /api/v1/connections/status/{userId}/{otherId}
func (h *ConnectionHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	otherID, err := parseID(r, "otherId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid other user id")
		return
	}
	if !requireActor(w, r, userID) {
		return
	}

	connected, err := h.connections.IsConnected(r.Context(), userID, otherID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", connectionStatus{UserID: userID, OtherID: otherID, Connected: connected})
}
