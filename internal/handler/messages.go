package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stageconnect/messaging-platform/internal/model"
	"github.com/stageconnect/messaging-platform/internal/service"
	"github.com/stageconnect/messaging-platform/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	gateway *service.Gateway
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(gateway *service.Gateway, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		gateway: gateway,
		logger:  log,
	}
}

// Send handles POST /api/v1/messages/send
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req model.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !requireActor(w, r, req.SenderID) {
		return
	}

	msg, err := h.gateway.SendMessage(r.Context(), req.SenderID, req.ReceiverID, req.Content)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "message sent", msg)
}

// Thread handles GET /api/v1/messages/{userId}/{partnerId}
func (h *MessageHandler) Thread(w http.ResponseWriter, r *http.Request) {
	userID, partnerID, ok := h.pair(w, r)
	if !ok {
		return
	}

	page, size := parsePage(r)
	thread, err := h.gateway.GetConversation(r.Context(), userID, partnerID, page, size)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", thread)
}

// Conversations handles GET /api/v1/messages/conversations/{userId}
func (h *MessageHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if !requireActor(w, r, userID) {
		return
	}

	summaries, err := h.gateway.ListConversations(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if summaries == nil {
		summaries = []model.ConversationSummary{}
	}

	writeSuccess(w, http.StatusOK, "", summaries)
}

// MarkRead handles PUT /api/v1/messages/read/{userId}/{partnerId}
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, partnerID, ok := h.pair(w, r)
	if !ok {
		return
	}

	marked, err := h.gateway.MarkRead(r.Context(), userID, partnerID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "messages marked as read", model.ReadResult{
		ConversationID: model.ConversationID(userID, partnerID),
		MarkedRead:     marked,
	})
}

// Unread handles GET /api/v1/messages/unread/{userId}[?partnerId=]
func (h *MessageHandler) Unread(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if !requireActor(w, r, userID) {
		return
	}

	result := model.UnreadCount{UserID: userID}
	if raw := r.URL.Query().Get("partnerId"); raw != "" {
		partnerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || partnerID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid partner id")
			return
		}
		result.PartnerID = &partnerID
		result.Count, err = h.gateway.UnreadCountFrom(r.Context(), userID, partnerID)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
	} else {
		result.Count, err = h.gateway.UnreadCount(r.Context(), userID)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
	}

	writeSuccess(w, http.StatusOK, "", result)
}

// ByConversation handles GET /api/v1/messages/conversation/{conversationId}
func (h *MessageHandler) ByConversation(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireSubject(w, r)
	if !ok {
		return
	}

	page, size := parsePage(r)
	result, err := h.gateway.ByConversationID(r.Context(), viewerID, chi.URLParam(r, "conversationId"), page, size)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", result)
}

func (h *MessageHandler) pair(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, err := parseID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return 0, 0, false
	}
	partnerID, err := parseID(r, "partnerId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid partner id")
		return 0, 0, false
	}
	if !requireActor(w, r, userID) {
		return 0, 0, false
	}
	return userID, partnerID, true
}
