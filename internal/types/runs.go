package types

import (
	"time"

	"github.com/google/uuid"
)

// TotalStages is the fixed number of stages in the content pipeline.
const TotalStages = 19

// InitialStage is the current_stage recorded on a freshly created run.
const InitialStage = "Webhook Received"

// RequestStatus is the lifecycle state of a content request.
type RequestStatus string

// RequestStatus values
const (
	RequestPending    RequestStatus = "pending"
	RequestInProgress RequestStatus = "in_progress"
	RequestCompleted  RequestStatus = "completed"
	RequestFailed     RequestStatus = "failed"
	RequestCancelled  RequestStatus = "cancelled"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

// RunStatus values
const (
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunStopped   RunStatus = "stopped"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further control transitions are allowed.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStopped, RunCompleted, RunFailed:
		return true
	}
	return false
}

// StageStatus is the state of a single stage execution.
type StageStatus string

// StageStatus values
const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// Valid reports whether s is a recognized stage status.
func (s StageStatus) Valid() bool {
	switch s {
	case StagePending, StageRunning, StageCompleted, StageFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the stage has finished, successfully or not.
func (s StageStatus) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Action is a user-initiated run control action.
type Action string

// Action values
const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionStop   Action = "stop"
)

// TargetStatus maps an action to the run status it produces.
func (a Action) TargetStatus() (RunStatus, bool) {
	switch a {
	case ActionPause:
		return RunPaused, true
	case ActionResume:
		return RunRunning, true
	case ActionStop:
		return RunStopped, true
	}
	return "", false
}

// ContentRequest is one user-submitted article job.
type ContentRequest struct {
	ID             uuid.UUID     `json:"id"`
	UserID         uuid.UUID     `json:"user_id"`
	ArticleTitle   string        `json:"article_title"`
	ClientName     string        `json:"client_name,omitempty"`
	PrimaryKeyword string        `json:"primary_keyword,omitempty"`
	Status         RequestStatus `json:"status"`
	CurrentRunID   *uuid.UUID    `json:"current_run_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Run is one execution attempt of the pipeline for a content request.
type Run struct {
	ID                  uuid.UUID  `json:"id"`
	ContentRequestID    uuid.UUID  `json:"content_request_id"`
	ExternalExecutionID *string    `json:"n8n_execution_id,omitempty"`
	Status              RunStatus  `json:"status"`
	CurrentStage        string     `json:"current_stage"`
	CompletedStages     int        `json:"completed_stages"`
	TotalStages         int        `json:"total_stages"`
	CreatedAt           time.Time  `json:"created_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

// Stage is one named step of a run. At most one row exists per (RunID, StageName).
type Stage struct {
	ID             uuid.UUID      `json:"id"`
	RunID          uuid.UUID      `json:"run_id"`
	StageName      string         `json:"stage_name"`
	StageOrder     int            `json:"stage_order"`
	Status         StageStatus    `json:"status"`
	OutputText     *string        `json:"output_text,omitempty"`
	OutputMetadata map[string]any `json:"output_metadata,omitempty"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	DurationMs     *int64         `json:"duration_ms,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// StageSummary is derived from the full stage set of a run.
type StageSummary struct {
	Completed int
	HasFailed bool
}
