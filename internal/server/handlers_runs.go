package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jonathan/content-runs/internal/realtime"
	"github.com/jonathan/content-runs/internal/server/middleware"
	"github.com/jonathan/content-runs/internal/tracking"
	"github.com/jonathan/content-runs/internal/types"
)

// handleCreateRun handles POST /run-tracking/create.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req types.CreateRunRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	requestID, err := parseID("content_request_id", req.ContentRequestID)
	if err != nil {
		writeError(w, err)
		return
	}

	run, err := s.tracker.CreateRun(r.Context(), middleware.UserID(r.Context()), requestID, req.ExternalExecutionID)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, types.CreateRunResponse{Success: true, RunID: run.ID.String()})
}

// handleControlRun handles POST /run-tracking/control.
func (s *Server) handleControlRun(w http.ResponseWriter, r *http.Request) {
	var req types.ControlRunRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	runID, err := parseID("run_id", req.RunID)
	if err != nil {
		writeError(w, err)
		return
	}

	status, err := s.tracker.ControlRun(r.Context(), middleware.UserID(r.Context()), runID, req.Action)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, types.ControlRunResponse{Success: true, Status: status})
}

// handleUpdateStage handles POST /run-tracking/update-stage.
func (s *Server) handleUpdateStage(w http.ResponseWriter, r *http.Request) {
	var report types.StageReport
	if !decodeAndValidate(w, r, &report) {
		return
	}
	in, err := tracking.StageInputFromReport(&report)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := s.tracker.ReportStage(r.Context(), in); err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]bool{"success": true})
}

// handleGetRun handles GET /run-tracking/{run_id}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseID("run_id", chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	detail, err := s.tracker.GetRun(r.Context(), middleware.UserID(r.Context()), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, detail)
}

// handleRunEvents streams the run's channel after the same access check as a read.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID, err := parseID("run_id", chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.tracker.GetRun(r.Context(), middleware.UserID(r.Context()), runID); err != nil {
		writeError(w, err)
		return
	}
	s.streamChannel(w, r, realtime.RunChannel(runID))
}
