// Package tracking implements content run tracking: run lifecycle control,
// stage report ingestion and the derivation of run state from its stages.
package tracking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/content-runs/internal/types"
)

// Store is the persisted state the tracker reads and writes. Lookups return
// (nil, nil) when the row does not exist.
type Store interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*types.User, error)

	GetContentRequest(ctx context.Context, requestID uuid.UUID) (*types.ContentRequest, error)
	AttachRun(ctx context.Context, requestID, runID uuid.UUID) error

	CreateRun(ctx context.Context, requestID uuid.UUID, executionID *string, totalStages int) (*types.Run, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*types.Run, error)
	// UpdateRunStatus and FinishRun only touch a run that is not yet stopped,
	// completed or failed. They report false, writing nothing, otherwise.
	// FinishRun also sets the status of the run's content request, atomically.
	UpdateRunStatus(ctx context.Context, runID uuid.UUID, status types.RunStatus) (bool, error)
	FinishRun(ctx context.Context, runID uuid.UUID, status types.RunStatus, completedAt time.Time, requestStatus types.RequestStatus) (bool, error)
	// UpdateRunProgress sets the current stage and recounts completed_stages
	// from the stored stages under the run's row lock, returning the count.
	UpdateRunProgress(ctx context.Context, runID uuid.UUID, currentStage string) (int, error)

	GetStage(ctx context.Context, runID uuid.UUID, stageName string) (*types.Stage, error)
	UpsertStage(ctx context.Context, stage *types.Stage) (*types.Stage, error)
	ListStages(ctx context.Context, runID uuid.UUID) ([]types.Stage, error)
	SummarizeStages(ctx context.Context, runID uuid.UUID) (types.StageSummary, error)
}

// Notifier publishes an event on a realtime channel.
type Notifier interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// PollerControl starts and cancels the background poller of a run.
type PollerControl interface {
	Start(executionID string, runID uuid.UUID)
	Stop(runID uuid.UUID)
}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, string, string, any) error { return nil }

type noopPollers struct{}

func (noopPollers) Start(string, uuid.UUID) {}
func (noopPollers) Stop(uuid.UUID)          {}
