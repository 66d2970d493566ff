// Package handler exposes the HTTP and realtime endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stageconnect/messaging-platform/internal/middleware"
	"github.com/stageconnect/messaging-platform/internal/service"
	"github.com/stageconnect/messaging-platform/pkg/logger"
)

// envelope is the body shape of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

// writeServiceError maps a service error kind to its HTTP status. Anything
// uncategorized is logged and reported as a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	status := http.StatusInternalServerError
	switch service.KindOf(err) {
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindValidation:
		status = http.StatusBadRequest
	case service.KindForbidden:
		status = http.StatusForbidden
	case service.KindConflict, service.KindInvalidState:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, service.MessageOf(err))
}

var errBadID = errors.New("invalid id")

// parseID reads a positive integer from a path parameter.
func parseID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadID
	}
	return id, nil
}

// parsePage reads page and size query parameters. Invalid values fall back
// to the defaults the services apply.
func parsePage(r *http.Request) (page, size int) {
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		page = v
	}
	if v, err := strconv.Atoi(q.Get("size")); err == nil {
		size = v
	}
	return page, size
}

// requireActor checks that the acting user named by the request is the
// authenticated subject. A missing or non-positive id is a bad request, not a
// mismatch. It writes the failure response itself.
func requireActor(w http.ResponseWriter, r *http.Request, actingID int64) bool {
	subject, ok := requireSubject(w, r)
	if !ok {
		return false
	}
	if actingID <= 0 {
		writeError(w, http.StatusBadRequest, "acting user id is required")
		return false
	}
	if actingID != subject {
		writeError(w, http.StatusForbidden, "acting user does not match the authenticated user")
		return false
	}
	return true
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// requireSubject returns the authenticated user or writes a 401.
func requireSubject(w http.ResponseWriter, r *http.Request) (int64, bool) {
	subject, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
	}
	return subject, ok
}
