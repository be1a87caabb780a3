package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/content-runs/internal/types"
)

const stageColumns = `id, run_id, stage_name, stage_order, status, output_text, output_metadata,
	error_message, started_at, completed_at, duration_ms, updated_at`

func scanStage(row pgx.Row) (*types.Stage, error) {
	var s types.Stage
	var metadataJSON []byte
	err := row.Scan(&s.ID, &s.RunID, &s.StageName, &s.StageOrder, &s.Status, &s.OutputText, &metadataJSON,
		&s.ErrorMessage, &s.StartedAt, &s.CompletedAt, &s.DurationMs, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &s.OutputMetadata); err != nil {
			return nil, fmt.Errorf("failed to decode output metadata: %w", err)
		}
	}
	return &s, nil
}

// GetStage retrieves a stage by run and name
func (db *DB) GetStage(ctx context.Context, runID uuid.UUID, stageName string) (*types.Stage, error) {
	s, err := scanStage(db.pool.QueryRow(ctx,
		`SELECT `+stageColumns+` FROM content_run_stages WHERE run_id = $1 AND stage_name = $2`,
		runID, stageName,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get stage: %w", err)
	}
	return s, nil
}

// UpsertStage writes the stage row keyed by (run_id, stage_name)
func (db *DB) UpsertStage(ctx context.Context, stage *types.Stage) (*types.Stage, error) {
	var metadataJSON []byte
	if stage.OutputMetadata != nil {
		var err error
		metadataJSON, err = json.Marshal(stage.OutputMetadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal output metadata: %w", err)
		}
	}

	s, err := scanStage(db.pool.QueryRow(ctx,
		`INSERT INTO content_run_stages (run_id, stage_name, stage_order, status, output_text,
		     output_metadata, error_message, started_at, completed_at, duration_ms, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (run_id, stage_name) DO UPDATE
		 SET stage_order = EXCLUDED.stage_order, status = EXCLUDED.status,
		     output_text = EXCLUDED.output_text, output_metadata = EXCLUDED.output_metadata,
		     error_message = EXCLUDED.error_message, started_at = EXCLUDED.started_at,
		     completed_at = EXCLUDED.completed_at, duration_ms = EXCLUDED.duration_ms,
		     updated_at = EXCLUDED.updated_at
		 RETURNING `+stageColumns,
		stage.RunID, stage.StageName, stage.StageOrder, stage.Status, stage.OutputText,
		metadataJSON, stage.ErrorMessage, stage.StartedAt, stage.CompletedAt, stage.DurationMs, stage.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert stage %s: %w", stage.StageName, err)
	}
	return s, nil
}

// ListStages retrieves all stages of a run ordered by stage_order
func (db *DB) ListStages(ctx context.Context, runID uuid.UUID) ([]types.Stage, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+stageColumns+` FROM content_run_stages WHERE run_id = $1 ORDER BY stage_order, stage_name`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	var stages []types.Stage
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		stages = append(stages, *s)
	}
	return stages, rows.Err()
}

// SummarizeStages counts completed stages and detects failures from the stored set
func (db *DB) SummarizeStages(ctx context.Context, runID uuid.UUID) (types.StageSummary, error) {
	var sum types.StageSummary
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE status = 'completed'),
		        COALESCE(BOOL_OR(status = 'failed'), false)
		 FROM content_run_stages WHERE run_id = $1`,
		runID,
	).Scan(&sum.Completed, &sum.HasFailed)
	if err != nil {
		return types.StageSummary{}, fmt.Errorf("failed to summarize stages: %w", err)
	}
	return sum, nil
}
