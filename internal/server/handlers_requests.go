package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/jonathan/content-runs/internal/server/middleware"
	"github.com/jonathan/content-runs/internal/tracking"
	"github.com/jonathan/content-runs/internal/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// handleSubmitContentRequest handles POST /content-requests.
func (s *Server) handleSubmitContentRequest(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitContentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	created, err := s.store.CreateContentRequest(r.Context(), middleware.UserID(r.Context()), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, created)
}

// handleListContentRequests handles GET /content-requests. Admins see every
// request, other callers their own.
func (s *Server) handleListContentRequests(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, &tracking.ErrInvalidArgument{Field: "limit", Message: "must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	callerID := middleware.UserID(r.Context())
	caller, err := s.store.GetUser(r.Context(), callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if caller == nil {
		writeError(w, &tracking.ErrUnauthorized{})
		return
	}

	var owner *uuid.UUID
	if !caller.IsAdmin() {
		owner = &callerID
	}
	requests, err := s.store.ListContentRequests(r.Context(), owner, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if requests == nil {
		requests = []types.ContentRequest{}
	}
	jsonResponse(w, http.StatusOK, map[string]any{"content_requests": requests})
}
