package tracking

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/jonathan/content-runs/internal/metrics"
	"github.com/jonathan/content-runs/internal/realtime"
	"github.com/jonathan/content-runs/internal/types"
)

// CreateRun starts a new run for a content request and points the request at it.
// When executionID is set, polling of the external engine starts in the
// background; the call does not wait for it.
func (t *Tracker) CreateRun(ctx context.Context, caller, requestID uuid.UUID, executionID *string) (*types.Run, error) {
	if requestID == uuid.Nil {
		return nil, &ErrInvalidArgument{Field: "content_request_id", Message: "is required"}
	}
	if caller == uuid.Nil {
		return nil, &ErrUnauthorized{}
	}

	req, err := t.store.GetContentRequest(ctx, requestID)
	if err != nil {
		return nil, storageErr("load content request", err)
	}
	if req == nil {
		return nil, &ErrNotFound{Kind: "content request", ID: requestID}
	}
	if err := t.authorize(ctx, caller, req); err != nil {
		return nil, err
	}

	if executionID != nil && *executionID == "" {
		executionID = nil
	}

	run, err := t.store.CreateRun(ctx, requestID, executionID, t.totalStages)
	if err != nil {
		return nil, storageErr("create run", err)
	}
	metrics.RunTransitions.WithLabelValues(string(types.RunRunning)).Inc()

	if err := t.store.AttachRun(ctx, requestID, run.ID); err != nil {
		t.abandonRun(ctx, run)
		return nil, storageErr("attach run to content request", err)
	}

	if executionID != nil {
		t.pollers.Start(*executionID, run.ID)
	}

	t.publish(ctx, realtime.RunChannel(run.ID), realtime.EventUpdate, run)
	t.publishActivity(ctx, requestID, run.ID, req.UserID, types.RequestInProgress)

	log.Printf("[runs] created run %s for content request %s", run.ID, requestID)
	return run, nil
}

// abandonRun fails a run whose request could not be pointed at it, so it does
// not linger as running. The request keeps its previous status.
func (t *Tracker) abandonRun(ctx context.Context, run *types.Run) {
	ok, err := t.store.UpdateRunStatus(context.WithoutCancel(ctx), run.ID, types.RunFailed)
	if err != nil || !ok {
		log.Printf("[runs] run %s: failed to abandon unattached run: %v", run.ID, err)
		return
	}
	metrics.RunTransitions.WithLabelValues(string(types.RunFailed)).Inc()
}

// ControlRun applies pause, resume or stop to a live run. Terminal runs reject
// every action with ErrInvalidState.
func (t *Tracker) ControlRun(ctx context.Context, caller, runID uuid.UUID, action types.Action) (types.RunStatus, error) {
	target, ok := action.TargetStatus()
	if !ok {
		return "", &ErrInvalidArgument{Field: "action", Message: "must be one of: pause, resume, stop"}
	}
	if runID == uuid.Nil {
		return "", &ErrInvalidArgument{Field: "run_id", Message: "is required"}
	}

	run, req, err := t.loadOwnedRun(ctx, caller, runID)
	if err != nil {
		return "", err
	}
	if run.Status.IsTerminal() {
		return "", &ErrInvalidState{RunID: runID, Status: run.Status}
	}

	var applied bool
	if action == types.ActionStop {
		now := t.now().UTC()
		applied, err = t.store.FinishRun(ctx, runID, target, now, types.RequestCancelled)
		if err != nil {
			return "", storageErr("stop run", err)
		}
		run.CompletedAt = &now
	} else {
		applied, err = t.store.UpdateRunStatus(ctx, runID, target)
		if err != nil {
			return "", storageErr("update run status", err)
		}
	}
	if !applied {
		// The run ended between the read and the write.
		return "", t.invalidState(ctx, run)
	}
	metrics.RunTransitions.WithLabelValues(string(target)).Inc()
	run.Status = target

	if action == types.ActionStop {
		t.pollers.Stop(runID)
		t.publishActivity(ctx, req.ID, runID, req.UserID, types.RequestCancelled)
	}

	t.publish(ctx, realtime.RunChannel(runID), realtime.EventUpdate, run)

	log.Printf("[runs] run %s %s -> %s", runID, action, target)
	return target, nil
}

// invalidState reports the status that made a control write a no-op.
func (t *Tracker) invalidState(ctx context.Context, run *types.Run) error {
	status := run.Status
	if current, err := t.store.GetRun(ctx, run.ID); err != nil {
		log.Printf("[runs] run %s: failed to reload after rejected control: %v", run.ID, err)
	} else if current != nil {
		status = current.Status
	}
	return &ErrInvalidState{RunID: run.ID, Status: status}
}

// GetRun returns a run with its stages ordered by stage_order.
func (t *Tracker) GetRun(ctx context.Context, caller, runID uuid.UUID) (*types.RunDetail, error) {
	run, req, err := t.loadOwnedRun(ctx, caller, runID)
	if err != nil {
		return nil, err
	}
	stages, err := t.store.ListStages(ctx, runID)
	if err != nil {
		return nil, storageErr("list stages", err)
	}
	if stages == nil {
		stages = []types.Stage{}
	}
	return &types.RunDetail{Run: run, Request: req, Stages: stages}, nil
}
