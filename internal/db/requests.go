package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/content-runs/internal/types"
)

const contentRequestColumns = `id, user_id, article_title, client_name, primary_keyword,
	status, current_run_id, created_at, updated_at`

func scanContentRequest(row pgx.Row) (*types.ContentRequest, error) {
	var r types.ContentRequest
	err := row.Scan(&r.ID, &r.UserID, &r.ArticleTitle, &r.ClientName, &r.PrimaryKeyword,
		&r.Status, &r.CurrentRunID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateContentRequest inserts a pending content request owned by userID
func (db *DB) CreateContentRequest(ctx context.Context, userID uuid.UUID, in *types.SubmitContentRequest) (*types.ContentRequest, error) {
	r, err := scanContentRequest(db.pool.QueryRow(ctx,
		`INSERT INTO content_requests (user_id, article_title, client_name, primary_keyword, status)
		 VALUES ($1, $2, $3, $4, 'pending')
		 RETURNING `+contentRequestColumns,
		userID, in.ArticleTitle, in.ClientName, in.PrimaryKeyword,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create content request: %w", err)
	}
	return r, nil
}

// GetContentRequest retrieves a content request by ID
func (db *DB) GetContentRequest(ctx context.Context, id uuid.UUID) (*types.ContentRequest, error) {
	r, err := scanContentRequest(db.pool.QueryRow(ctx,
		`SELECT `+contentRequestColumns+` FROM content_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get content request: %w", err)
	}
	return r, nil
}

// ListContentRequests lists content requests newest first. A nil userID lists every owner's.
func (db *DB) ListContentRequests(ctx context.Context, userID *uuid.UUID, limit int) ([]types.ContentRequest, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + contentRequestColumns + ` FROM content_requests`
	args := []any{}
	argNum := 1
	if userID != nil {
		query += fmt.Sprintf(" WHERE user_id = $%d", argNum)
		args = append(args, *userID)
		argNum++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
	args = append(args, limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list content requests: %w", err)
	}
	defer rows.Close()

	var out []types.ContentRequest
	for rows.Next() {
		r, err := scanContentRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content request: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// AttachRun points a content request at its current run and marks it in progress
func (db *DB) AttachRun(ctx context.Context, requestID, runID uuid.UUID) error {
	result, err := db.pool.Exec(ctx,
		`UPDATE content_requests
		 SET current_run_id = $1, status = 'in_progress', updated_at = NOW()
		 WHERE id = $2`,
		runID, requestID,
	)
	if err != nil {
		return fmt.Errorf("failed to attach run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("content request not found: %s", requestID)
	}
	return nil
}
