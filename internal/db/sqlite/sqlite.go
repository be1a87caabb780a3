// Package sqlite is a single-file store with the same contract as the PostgreSQL
// store, for local development and the report-stage CLI.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/content-runs/internal/types"
	_ "github.com/mattn/go-sqlite3"
)

// timeFormat is fixed width so that text ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

const schema = `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS content_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		article_title TEXT NOT NULL,
		client_name TEXT NOT NULL DEFAULT '',
		primary_keyword TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		current_run_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES profiles(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS content_runs (
		id TEXT PRIMARY KEY,
		content_request_id TEXT NOT NULL,
		n8n_execution_id TEXT,
		status TEXT NOT NULL,
		current_stage TEXT NOT NULL,
		completed_stages INTEGER NOT NULL DEFAULT 0,
		total_stages INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		completed_at TEXT,
		FOREIGN KEY (content_request_id) REFERENCES content_requests(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS content_run_stages (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		stage_name TEXT NOT NULL,
		stage_order INTEGER NOT NULL,
		status TEXT NOT NULL,
		output_text TEXT,
		output_metadata TEXT,
		error_message TEXT,
		started_at TEXT,
		completed_at TEXT,
		duration_ms INTEGER,
		updated_at TEXT NOT NULL,
		UNIQUE (run_id, stage_name),
		FOREIGN KEY (run_id) REFERENCES content_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_content_run_stages_order ON content_run_stages (run_id, stage_order);`

// Store is a SQLite-backed run store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// dsn applies per-connection pragmas through the driver's query parameters.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) timestamp() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", v, err)
	}
	return t.UTC(), nil
}

func parseTimePtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// CreateUser inserts a profile and returns its ID.
func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string, role types.Role) (uuid.UUID, error) {
	if role == "" {
		role = types.RoleUser
	}
	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, name, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), name, email, passwordHash, string(role), s.timestamp(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

func scanUser(row *sql.Row, extra ...any) (*types.User, error) {
	var u types.User
	var id, role, created string
	dest := append([]any{&id, &u.Name, &u.Email, &role, &created}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	var err error
	if u.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	u.Role = types.Role(role)
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser retrieves a profile by ID.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*types.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, role, created_at FROM profiles WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a profile with its password hash.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*types.UserCredentials, error) {
	var hash string
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, role, created_at, password_hash FROM profiles WHERE email = ?`, email), &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &types.UserCredentials{User: *u, PasswordHash: hash}, nil
}

// CheckEmailExists reports whether a profile already uses email.
func (s *Store) CheckEmailExists(ctx context.Context, email string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles WHERE email = ?`, email).Scan(&n); err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return n > 0, nil
}

// SetUserRole changes the role of the profile with the given email.
func (s *Store) SetUserRole(ctx context.Context, email string, role types.Role) error {
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET role = ? WHERE email = ?`, string(role), email)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	return requireRow(res, "user", email)
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const contentRequestColumns = `id, user_id, article_title, client_name, primary_keyword,
	status, current_run_id, created_at, updated_at`

func scanContentRequest(row rowScanner) (*types.ContentRequest, error) {
	var r types.ContentRequest
	var id, userID, status, created, updated string
	var currentRun sql.NullString
	if err := row.Scan(&id, &userID, &r.ArticleTitle, &r.ClientName, &r.PrimaryKeyword,
		&status, &currentRun, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse content request id: %w", err)
	}
	if r.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	r.Status = types.RequestStatus(status)
	if currentRun.Valid {
		runID, err := uuid.Parse(currentRun.String)
		if err != nil {
			return nil, fmt.Errorf("parse current run id: %w", err)
		}
		r.CurrentRunID = &runID
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateContentRequest inserts a pending content request owned by userID.
func (s *Store) CreateContentRequest(ctx context.Context, userID uuid.UUID, in *types.SubmitContentRequest) (*types.ContentRequest, error) {
	id := uuid.New()
	now := s.timestamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO content_requests (id, user_id, article_title, client_name, primary_keyword, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), userID.String(), in.ArticleTitle, in.ClientName, in.PrimaryKeyword,
		string(types.RequestPending), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create content request: %w", err)
	}
	return s.GetContentRequest(ctx, id)
}

// GetContentRequest retrieves a content request by ID.
func (s *Store) GetContentRequest(ctx context.Context, id uuid.UUID) (*types.ContentRequest, error) {
	r, err := scanContentRequest(s.db.QueryRowContext(ctx,
		`SELECT `+contentRequestColumns+` FROM content_requests WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get content request: %w", err)
	}
	return r, nil
}

// ListContentRequests lists content requests newest first. A nil userID lists every owner's.
func (s *Store) ListContentRequests(ctx context.Context, userID *uuid.UUID, limit int) ([]types.ContentRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + contentRequestColumns + ` FROM content_requests`
	args := []any{}
	if userID != nil {
		query += ` WHERE user_id = ?`
		args = append(args, userID.String())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list content requests: %w", err)
	}
	defer rows.Close()

	var out []types.ContentRequest
	for rows.Next() {
		r, err := scanContentRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content request: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// AttachRun points a content request at its current run and marks it in progress.
func (s *Store) AttachRun(ctx context.Context, requestID, runID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE content_requests SET current_run_id = ?, status = ?, updated_at = ? WHERE id = ?`,
		runID.String(), string(types.RequestInProgress), s.timestamp(), requestID.String(),
	)
	if err != nil {
		return fmt.Errorf("attach run: %w", err)
	}
	return requireRow(res, "content request", requestID.String())
}

const runColumns = `id, content_request_id, n8n_execution_id, status, current_stage,
	completed_stages, total_stages, created_at, completed_at`

func scanRun(row rowScanner) (*types.Run, error) {
	var r types.Run
	var id, requestID, status, created string
	var execID, completed sql.NullString
	if err := row.Scan(&id, &requestID, &execID, &status, &r.CurrentStage,
		&r.CompletedStages, &r.TotalStages, &created, &completed); err != nil {
		return nil, err
	}
	var err error
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	if r.ContentRequestID, err = uuid.Parse(requestID); err != nil {
		return nil, fmt.Errorf("parse content request id: %w", err)
	}
	r.ExternalExecutionID = stringPtr(execID)
	r.Status = types.RunStatus(status)
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.CompletedAt, err = parseTimePtr(completed); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRun inserts a running run at the initial stage.
func (s *Store) CreateRun(ctx context.Context, requestID uuid.UUID, executionID *string, totalStages int) (*types.Run, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO content_runs (id, content_request_id, n8n_execution_id, status, current_stage, completed_stages, total_stages, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		id.String(), requestID.String(), executionID, string(types.RunRunning), types.InitialStage, totalStages, s.timestamp(),
	)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (*types.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM content_runs WHERE id = ?`, runID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

const liveRun = `status NOT IN ('stopped', 'completed', 'failed')`

// UpdateRunStatus sets the status of a live run. It reports false when the
// run is missing or already terminal.
func (s *Store) UpdateRunStatus(ctx context.Context, runID uuid.UUID, status types.RunStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE content_runs SET status = ? WHERE id = ? AND `+liveRun,
		string(status), runID.String(),
	)
	if err != nil {
		return false, fmt.Errorf("update run status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update run status: %w", err)
	}
	return n == 1, nil
}

// FinishRun moves a live run to a terminal status and sets its content
// request's status in one transaction.
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID, status types.RunStatus, completedAt time.Time, requestStatus types.RequestStatus) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("finish run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var requestID string
	err = tx.QueryRowContext(ctx,
		`UPDATE content_runs SET status = ?, completed_at = ?
		 WHERE id = ? AND `+liveRun+`
		 RETURNING content_request_id`,
		string(status), formatTime(completedAt), runID.String(),
	).Scan(&requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("finish run: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE content_requests SET status = ?, updated_at = ? WHERE id = ?`,
		string(requestStatus), s.timestamp(), requestID,
	); err != nil {
		return false, fmt.Errorf("update content request status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("finish run: %w", err)
	}
	return true, nil
}

// UpdateRunProgress sets the current stage and recounts completed stages.
func (s *Store) UpdateRunProgress(ctx context.Context, runID uuid.UUID, currentStage string) (int, error) {
	var completed int
	err := s.db.QueryRowContext(ctx,
		`UPDATE content_runs
		 SET current_stage = ?,
			completed_stages = (SELECT COUNT(*) FROM content_run_stages WHERE run_id = content_runs.id AND status = 'completed')
		 WHERE id = ?
		 RETURNING completed_stages`,
		currentStage, runID.String(),
	).Scan(&completed)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return 0, fmt.Errorf("update run progress: %w", err)
	}
	return completed, nil
}

const stageColumns = `id, run_id, stage_name, stage_order, status, output_text, output_metadata,
	error_message, started_at, completed_at, duration_ms, updated_at`

func scanStage(row rowScanner) (*types.Stage, error) {
	var st types.Stage
	var id, runID, status, updated string
	var outputText, metadata, errMsg, started, completed sql.NullString
	var duration sql.NullInt64
	if err := row.Scan(&id, &runID, &st.StageName, &st.StageOrder, &status, &outputText, &metadata,
		&errMsg, &started, &completed, &duration, &updated); err != nil {
		return nil, err
	}
	var err error
	if st.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse stage id: %w", err)
	}
	if st.RunID, err = uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	st.Status = types.StageStatus(status)
	st.OutputText = stringPtr(outputText)
	st.ErrorMessage = stringPtr(errMsg)
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &st.OutputMetadata); err != nil {
			return nil, fmt.Errorf("decode output metadata: %w", err)
		}
	}
	if st.StartedAt, err = parseTimePtr(started); err != nil {
		return nil, err
	}
	if st.CompletedAt, err = parseTimePtr(completed); err != nil {
		return nil, err
	}
	if duration.Valid {
		d := duration.Int64
		st.DurationMs = &d
	}
	if st.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &st, nil
}

// GetStage retrieves a stage by run and name.
func (s *Store) GetStage(ctx context.Context, runID uuid.UUID, stageName string) (*types.Stage, error) {
	st, err := scanStage(s.db.QueryRowContext(ctx,
		`SELECT `+stageColumns+` FROM content_run_stages WHERE run_id = ? AND stage_name = ?`,
		runID.String(), stageName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get stage: %w", err)
	}
	return st, nil
}

// UpsertStage writes the stage row keyed by (run_id, stage_name).
func (s *Store) UpsertStage(ctx context.Context, stage *types.Stage) (*types.Stage, error) {
	var metadata *string
	if stage.OutputMetadata != nil {
		b, err := json.Marshal(stage.OutputMetadata)
		if err != nil {
			return nil, fmt.Errorf("marshal output metadata: %w", err)
		}
		v := string(b)
		metadata = &v
	}
	updated := stage.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO content_run_stages (id, run_id, stage_name, stage_order, status, output_text,
			output_metadata, error_message, started_at, completed_at, duration_ms, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, stage_name) DO UPDATE SET
			stage_order = excluded.stage_order,
			status = excluded.status,
			output_text = excluded.output_text,
			output_metadata = excluded.output_metadata,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			updated_at = excluded.updated_at`,
		uuid.New().String(), stage.RunID.String(), stage.StageName, stage.StageOrder, string(stage.Status),
		stage.OutputText, metadata, stage.ErrorMessage, formatTimePtr(stage.StartedAt),
		formatTimePtr(stage.CompletedAt), stage.DurationMs, formatTime(updated),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert stage %s: %w", stage.StageName, err)
	}
	return s.GetStage(ctx, stage.RunID, stage.StageName)
}

// ListStages retrieves all stages of a run ordered by stage_order.
func (s *Store) ListStages(ctx context.Context, runID uuid.UUID) ([]types.Stage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stageColumns+` FROM content_run_stages WHERE run_id = ? ORDER BY stage_order, stage_name`,
		runID.String())
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var stages []types.Stage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stages = append(stages, *st)
	}
	return stages, rows.Err()
}

// SummarizeStages counts completed stages and detects failures from the stored set.
func (s *Store) SummarizeStages(ctx context.Context, runID uuid.UUID) (types.StageSummary, error) {
	var completed, failed int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(MAX(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		 FROM content_run_stages WHERE run_id = ?`,
		runID.String(),
	).Scan(&completed, &failed)
	if err != nil {
		return types.StageSummary{}, fmt.Errorf("summarize stages: %w", err)
	}
	return types.StageSummary{Completed: completed, HasFailed: failed > 0}, nil
}
