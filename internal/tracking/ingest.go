package tracking

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/content-runs/internal/metrics"
	"github.com/jonathan/content-runs/internal/realtime"
	"github.com/jonathan/content-runs/internal/types"
)

// StageInput is a validated stage transition. StartedAt and CompletedAt carry
// times observed by the external engine; when nil the tracker's clock is used.
type StageInput struct {
	RunID          uuid.UUID
	StageName      string
	StageOrder     int
	Status         types.StageStatus
	OutputText     *string
	OutputMetadata map[string]any
	ErrorMessage   *string
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// StageInputFromReport converts a wire report into a StageInput.
func StageInputFromReport(r *types.StageReport) (StageInput, error) {
	if r == nil {
		return StageInput{}, &ErrInvalidArgument{Field: "body", Message: "is required"}
	}
	runID, err := uuid.Parse(r.RunID)
	if err != nil {
		return StageInput{}, &ErrInvalidArgument{Field: "run_id", Message: "must be a UUID"}
	}
	in := StageInput{
		RunID:          runID,
		StageName:      r.StageName,
		StageOrder:     -1,
		Status:         r.Status,
		OutputText:     r.OutputText,
		OutputMetadata: r.OutputMetadata,
		ErrorMessage:   r.ErrorMessage,
	}
	if r.StageOrder != nil {
		in.StageOrder = *r.StageOrder
	}
	return in, in.validate()
}

func (in StageInput) validate() error {
	switch {
	case in.RunID == uuid.Nil:
		return &ErrInvalidArgument{Field: "run_id", Message: "is required"}
	case strings.TrimSpace(in.StageName) == "":
		return &ErrInvalidArgument{Field: "stage_name", Message: "is required"}
	case in.StageOrder < 0:
		return &ErrInvalidArgument{Field: "stage_order", Message: "is required and must be non-negative"}
	case !in.Status.Valid():
		return &ErrInvalidArgument{Field: "status", Message: "must be one of: pending, running, completed, failed"}
	}
	return nil
}

// ReportStage records one stage transition and re-derives the run from the
// full stage set. Re-reporting a stage overwrites its row, so reports may be
// retried, duplicated or arrive out of order without changing the outcome.
func (t *Tracker) ReportStage(ctx context.Context, in StageInput) (*types.Stage, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	run, err := t.store.GetRun(ctx, in.RunID)
	if err != nil {
		return nil, storageErr("load run", err)
	}
	if run == nil {
		return nil, &ErrNotFound{Kind: "run", ID: in.RunID}
	}

	prior, err := t.store.GetStage(ctx, in.RunID, in.StageName)
	if err != nil {
		return nil, storageErr("load stage", err)
	}

	now := t.now().UTC()
	saved, err := t.store.UpsertStage(ctx, mergeStage(prior, in, now))
	if err != nil {
		return nil, storageErr("upsert stage", err)
	}
	metrics.StageReports.WithLabelValues(string(in.Status)).Inc()

	summary, err := t.store.SummarizeStages(ctx, in.RunID)
	if err != nil {
		return nil, storageErr("summarize stages", err)
	}

	completed, err := t.store.UpdateRunProgress(ctx, in.RunID, in.StageName)
	if err != nil {
		return nil, storageErr("update run progress", err)
	}
	run.CurrentStage = in.StageName
	run.CompletedStages = completed

	if next, ok := deriveStatus(run, summary, t.totalStages); ok {
		finished, err := t.store.FinishRun(ctx, in.RunID, next, now, requestStatusFor(next))
		if err != nil {
			return nil, storageErr("finish run", err)
		}
		if finished {
			run.Status = next
			run.CompletedAt = &now
			t.finishRun(ctx, run)
		} else if current, err := t.store.GetRun(ctx, in.RunID); err == nil && current != nil {
			// Another report or a stop ended the run first.
			run = current
		}
	}

	t.publish(ctx, realtime.RunChannel(in.RunID), realtime.EventStageUpdate, saved)
	t.publish(ctx, realtime.RunChannel(in.RunID), realtime.EventUpdate, run)

	return saved, nil
}

// mergeStage overlays a report onto the existing row. Fields the report omits
// keep their stored values.
func mergeStage(prior *types.Stage, in StageInput, now time.Time) *types.Stage {
	stage := &types.Stage{}
	if prior != nil {
		*stage = *prior
	}
	stage.RunID = in.RunID
	stage.StageName = in.StageName
	stage.StageOrder = in.StageOrder
	stage.Status = in.Status
	stage.UpdatedAt = now
	if in.OutputText != nil {
		stage.OutputText = in.OutputText
	}
	if in.OutputMetadata != nil {
		stage.OutputMetadata = in.OutputMetadata
	}
	if in.ErrorMessage != nil {
		stage.ErrorMessage = in.ErrorMessage
	}

	switch in.Status {
	case types.StageRunning:
		started := now
		if in.StartedAt != nil {
			started = in.StartedAt.UTC()
		}
		stage.StartedAt = &started
		stage.CompletedAt = nil
		stage.DurationMs = nil
	case types.StageCompleted, types.StageFailed:
		completed := now
		if in.CompletedAt != nil {
			completed = in.CompletedAt.UTC()
		}
		if in.StartedAt != nil {
			started := in.StartedAt.UTC()
			stage.StartedAt = &started
		}
		stage.CompletedAt = &completed
		stage.DurationMs = nil
		if stage.StartedAt != nil {
			d := completed.Sub(*stage.StartedAt).Milliseconds()
			stage.DurationMs = &d
		}
	}
	return stage
}

// deriveStatus computes the run status implied by its stages. Stopped,
// completed and failed runs keep their status; derived statuses are only
// reported when they differ from the stored one.
func deriveStatus(run *types.Run, summary types.StageSummary, fallbackTotal int) (types.RunStatus, bool) {
	if run.Status.IsTerminal() {
		return run.Status, false
	}
	total := run.TotalStages
	if total <= 0 {
		total = fallbackTotal
	}

	var next types.RunStatus
	switch {
	case summary.HasFailed:
		next = types.RunFailed
	case summary.Completed >= total:
		next = types.RunCompleted
	default:
		return run.Status, false
	}
	return next, next != run.Status
}

func requestStatusFor(status types.RunStatus) types.RequestStatus {
	if status == types.RunFailed {
		return types.RequestFailed
	}
	return types.RequestCompleted
}

// finishRun ends polling of a run that reached a terminal status and announces it.
func (t *Tracker) finishRun(ctx context.Context, run *types.Run) {
	metrics.RunTransitions.WithLabelValues(string(run.Status)).Inc()
	t.pollers.Stop(run.ID)

	var owner uuid.UUID
	if req, err := t.store.GetContentRequest(ctx, run.ContentRequestID); err != nil {
		log.Printf("[ingest] run %s: failed to load content request for activity event: %v", run.ID, err)
	} else if req != nil {
		owner = req.UserID
	}
	t.publishActivity(ctx, run.ContentRequestID, run.ID, owner, requestStatusFor(run.Status))

	log.Printf("[ingest] run %s %s (%d/%d stages)", run.ID, run.Status, run.CompletedStages, run.TotalStages)
}
