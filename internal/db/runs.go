package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/content-runs/internal/types"
)

const runColumns = `id, content_request_id, n8n_execution_id, status, current_stage,
	completed_stages, total_stages, created_at, completed_at`

func scanRun(row pgx.Row) (*types.Run, error) {
	var r types.Run
	err := row.Scan(&r.ID, &r.ContentRequestID, &r.ExternalExecutionID, &r.Status, &r.CurrentStage,
		&r.CompletedStages, &r.TotalStages, &r.CreatedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRun inserts a running run at the initial stage
func (db *DB) CreateRun(ctx context.Context, requestID uuid.UUID, executionID *string, totalStages int) (*types.Run, error) {
	r, err := scanRun(db.pool.QueryRow(ctx,
		`INSERT INTO content_runs (content_request_id, n8n_execution_id, status, current_stage, completed_stages, total_stages)
		 VALUES ($1, $2, 'running', $3, 0, $4)
		 RETURNING `+runColumns,
		requestID, executionID, types.InitialStage, totalStages,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return r, nil
}

// GetRun retrieves a run by ID
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*types.Run, error) {
	r, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM content_runs WHERE id = $1`, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// liveRun matches runs that have not stopped, completed or failed.
const liveRun = `status NOT IN ('stopped', 'completed', 'failed')`

// UpdateRunStatus sets the status of a live run. It reports false when the
// run is missing or already terminal.
func (db *DB) UpdateRunStatus(ctx context.Context, runID uuid.UUID, status types.RunStatus) (bool, error) {
	result, err := db.pool.Exec(ctx,
		`UPDATE content_runs SET status = $1 WHERE id = $2 AND `+liveRun,
		status, runID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update run status: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// FinishRun moves a live run to a terminal status and sets its content
// request's status in the same transaction. It reports false, changing
// nothing, when the run is missing or already terminal.
func (db *DB) FinishRun(ctx context.Context, runID uuid.UUID, status types.RunStatus, completedAt time.Time, requestStatus types.RequestStatus) (bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var requestID uuid.UUID
	err = tx.QueryRow(ctx,
		`UPDATE content_runs SET status = $1, completed_at = $2
		 WHERE id = $3 AND `+liveRun+`
		 RETURNING content_request_id`,
		status, completedAt, runID,
	).Scan(&requestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to finish run: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE content_requests SET status = $1, updated_at = NOW() WHERE id = $2`,
		requestStatus, requestID,
	); err != nil {
		return false, fmt.Errorf("failed to update content request status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit run finish: %w", err)
	}
	return true, nil
}

// UpdateRunProgress sets the current stage and recounts completed stages.
// The run row is locked first so the count sees every stage committed
// before a competing update.
func (db *DB) UpdateRunProgress(ctx context.Context, runID uuid.UUID, currentStage string) (int, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM content_runs WHERE id = $1 FOR UPDATE`, runID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock run: %w", err)
	}

	var completed int
	err = tx.QueryRow(ctx,
		`UPDATE content_runs
		 SET current_stage = $1,
		     completed_stages = (SELECT COUNT(*) FROM content_run_stages WHERE run_id = $2 AND status = 'completed')
		 WHERE id = $2
		 RETURNING completed_stages`,
		currentStage, runID,
	).Scan(&completed)
	if err != nil {
		return 0, fmt.Errorf("failed to update run progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit run progress: %w", err)
	}
	return completed, nil
}
