package server

import (
	"net/http"

	"github.com/jonathan/content-runs/internal/types"
)

// handleScoreContent handles POST /run-tracking/score-content.
func (s *Server) handleScoreContent(w http.ResponseWriter, r *http.Request) {
	if s.scorer == nil {
		errorResponse(w, http.StatusServiceUnavailable, "content scoring is not configured")
		return
	}
	var req types.ScoreContentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := s.scorer.Score(r.Context(), req.Content, req.StageName)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, resp)
}
