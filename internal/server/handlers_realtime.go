package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jonathan/content-runs/internal/metrics"
	"github.com/jonathan/content-runs/internal/realtime"
	"github.com/jonathan/content-runs/internal/types"
)

// handleActivityEvents handles GET /activity/events.
func (s *Server) handleActivityEvents(w http.ResponseWriter, r *http.Request) {
	s.streamChannel(w, r, realtime.GlobalChannel)
}

// handleClientEvents handles GET /realtime/clients/{client_id}/events.
func (s *Server) handleClientEvents(w http.ResponseWriter, r *http.Request) {
	s.streamChannel(w, r, realtime.ClientChannel(chi.URLParam(r, "client_id")))
}

// handleBroadcast handles POST /realtime/broadcast. The update goes to the
// client's channel and to the global activity channel.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req types.BroadcastRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.publishTimeout)
	defer cancel()

	channel := realtime.ClientChannel(req.ClientID)
	if err := s.publisher.Publish(ctx, channel, realtime.EventBriefStatus, req.BriefUpdate); err != nil {
		metrics.RelayPublishFailures.Inc()
		writeError(w, fmt.Errorf("failed to broadcast to %s: %w", channel, err))
		return
	}

	activity := map[string]any{"clientId": req.ClientID, "briefUpdate": req.BriefUpdate}
	if err := s.publisher.Publish(ctx, realtime.GlobalChannel, realtime.EventBriefStatus, activity); err != nil {
		metrics.RelayPublishFailures.Inc()
		log.Printf("[relay] broadcast for client %s reached its channel but not %s: %v", req.ClientID, realtime.GlobalChannel, err)
	}
	jsonResponse(w, http.StatusOK, map[string]bool{"success": true})
}
