// Package realtime provides the best-effort publish/subscribe relay that
// pushes run and stage updates to subscribed clients.
package realtime

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// GlobalChannel carries cross-run activity notifications.
const GlobalChannel = "content-briefs-activity"

// Event names
const (
	EventUpdate      = "update"
	EventStageUpdate = "stage-update"
	EventBriefStatus = "brief-status-update"
)

// RunChannel returns the per-run channel name.
func RunChannel(runID uuid.UUID) string {
	return "run-" + runID.String()
}

// ClientChannel returns the per-client channel name used for brief status broadcasts.
func ClientChannel(clientID string) string {
	return "client-" + clientID
}

// Event is one published message. IDs are ULIDs so subscribers can order events.
type Event struct {
	ID      string          `json:"id"`
	Channel string          `json:"channel"`
	Name    string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	SentAt  time.Time       `json:"sent_at"`
}

// NewEvent marshals payload into an event envelope.
func NewEvent(channel, name string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	now := time.Now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate event id: %w", err)
	}
	return &Event{
		ID:      id.String(),
		Channel: channel,
		Name:    name,
		Data:    data,
		SentAt:  now,
	}, nil
}
