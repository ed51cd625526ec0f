package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists task records in a local sqlite database. It is
// the bundled Store for single-process deployments; the interface stays
// the contract so a hosted document store can replace it without
// touching the worker.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// migrates the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("task: create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("task: open store: %w", err)
	}
	store, err := NewSQLiteStoreFromDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStoreFromDB wraps an existing handle; tests use in-memory
// databases through this path.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			subtype TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			extracted_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			result TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			error_category TEXT NOT NULL DEFAULT '',
			depends_on TEXT NOT NULL DEFAULT '',
			sequence_index INTEGER,
			messages_json TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			progress_json TEXT NOT NULL DEFAULT '',
			log_file TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			tool_count INTEGER NOT NULL DEFAULT 0,
			prompt_version TEXT NOT NULL DEFAULT '',
			project_dir TEXT NOT NULL DEFAULT '',
			deploy_url TEXT NOT NULL DEFAULT '',
			deploy_label TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);`,
		`CREATE TABLE IF NOT EXISTS prompt_versions (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			avg_rating REAL NOT NULL DEFAULT 0,
			rated_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS heartbeats (
			role TEXT PRIMARY KEY,
			last_seen TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT ''
		);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("task: migrate schema: %w", err)
		}
	}
	return nil
}

const taskColumns = `id, type, subtype, title, description, status,
	extracted_at, started_at, completed_at, result, error_message,
	error_category, depends_on, sequence_index, messages_json, session_id,
	cancel_requested, progress_json, log_file, duration_ms, tool_count,
	prompt_version, project_dir, deploy_url, deploy_label`

func (s *SQLiteStore) Task(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrTaskNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("task: query %s: %w", id, err)
	}
	return t, nil
}

func (s *SQLiteStore) Tasks(ctx context.Context, q Query) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var clauses []string
	var args []any
	if q.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(q.Status))
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "extracted_at >= ?")
		args = append(args, formatTime(q.Since))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY extracted_at ASC"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("task: list tasks: %w", err)
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("task: scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task: list tasks: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CreateTask(ctx context.Context, t Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.Type), string(t.Subtype), t.Title, t.Description, string(t.Status),
		formatTime(t.ExtractedAt), formatTimePtr(t.StartedAt), formatTimePtr(t.CompletedAt),
		t.Result, t.ErrorMessage, string(t.ErrorCategory), t.DependsOn, nullableInt(t.SequenceIndex),
		t.MessagesJSON, t.SessionID, boolToInt(t.CancelRequested), t.ProgressJSON, t.LogFile,
		t.DurationMs, t.ToolCount, t.PromptVersion, t.ProjectDir, t.DeployURL, t.DeployLabel,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrTaskAlreadyExists
		}
		return fmt.Errorf("task: insert %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, id string, u Update) error {
	var sets []string
	var args []any
	set := func(col string, val any) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	if u.Status != nil {
		set("status", string(*u.Status))
	}
	if u.StartedAt != nil {
		set("started_at", formatTimePtr(*u.StartedAt))
	}
	if u.CompletedAt != nil {
		set("completed_at", formatTimePtr(*u.CompletedAt))
	}
	if u.Result != nil {
		set("result", *u.Result)
	}
	if u.ErrorMessage != nil {
		set("error_message", *u.ErrorMessage)
	}
	if u.ErrorCategory != nil {
		set("error_category", string(*u.ErrorCategory))
	}
	if u.MessagesJSON != nil {
		set("messages_json", *u.MessagesJSON)
	}
	if u.SessionID != nil {
		set("session_id", *u.SessionID)
	}
	if u.ProgressJSON != nil {
		set("progress_json", *u.ProgressJSON)
	}
	if u.LogFile != nil {
		set("log_file", *u.LogFile)
	}
	if u.DurationMs != nil {
		set("duration_ms", *u.DurationMs)
	}
	if u.ToolCount != nil {
		set("tool_count", *u.ToolCount)
	}
	if u.PromptVersion != nil {
		set("prompt_version", *u.PromptVersion)
	}
	if u.ProjectDir != nil {
		set("project_dir", *u.ProjectDir)
	}
	if u.DeployURL != nil {
		set("deploy_url", *u.DeployURL)
	}
	if u.DeployLabel != nil {
		set("deploy_label", *u.DeployLabel)
	}
	if u.CancelRequest != nil {
		set("cancel_requested", boolToInt(*u.CancelRequest))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("task: update %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("task: update %s: %w", id, err)
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *SQLiteStore) ClaimTask(ctx context.Context, id string, stamp ClaimStamp) (bool, error) {
	// The WHERE clause is the mutual-exclusion point: only one update can
	// observe status = pending.
	res, err := s.db.ExecContext(ctx, `UPDATE tasks
		SET status = ?, started_at = ?, log_file = ?, prompt_version = ?, progress_json = ''
		WHERE id = ? AND status = ?`,
		string(StatusInProgress), formatTime(stamp.StartedAt), stamp.LogFile,
		stamp.PromptVersion, id, string(StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("task: claim %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("task: claim %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Dependency(ctx context.Context, t Task) (Task, bool, error) {
	if t.DependsOn == "" {
		return Task{}, false, nil
	}
	dep, err := s.Task(ctx, t.DependsOn)
	if errors.Is(err, ErrTaskNotFound) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, err
	}
	return dep, true, nil
}

func (s *SQLiteStore) PromptVersion(ctx context.Context, id string) (PromptVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, avg_rating, rated_count FROM prompt_versions WHERE id = ?`, id)
	var v PromptVersion
	var created string
	if err := row.Scan(&v.ID, &created, &v.AvgRating, &v.RatedCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PromptVersion{}, ErrPromptVersionNotFound
		}
		return PromptVersion{}, fmt.Errorf("task: query prompt version %s: %w", id, err)
	}
	v.CreatedAt = parseTime(created)
	return v, nil
}

func (s *SQLiteStore) CreatePromptVersion(ctx context.Context, v PromptVersion) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO prompt_versions (id, created_at, avg_rating, rated_count)
		 VALUES (?, ?, ?, ?)`,
		v.ID, formatTime(v.CreatedAt), v.AvgRating, v.RatedCount,
	)
	if err != nil {
		return fmt.Errorf("task: insert prompt version %s: %w", v.ID, err)
	}
	return nil
}

func (s *SQLiteStore) WriteHeartbeat(ctx context.Context, hb Heartbeat) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO heartbeats (role, last_seen, status) VALUES (?, ?, ?)
		 ON CONFLICT(role) DO UPDATE SET last_seen = excluded.last_seen, status = excluded.status`,
		hb.Role, formatTime(hb.LastSeen), hb.Status,
	)
	if err != nil {
		return fmt.Errorf("task: write heartbeat %s: %w", hb.Role, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var typ, subtype, status, category string
	var extracted string
	var started, completed sql.NullString
	var seq sql.NullInt64
	var cancelled int
	err := row.Scan(
		&t.ID, &typ, &subtype, &t.Title, &t.Description, &status,
		&extracted, &started, &completed, &t.Result, &t.ErrorMessage,
		&category, &t.DependsOn, &seq, &t.MessagesJSON, &t.SessionID,
		&cancelled, &t.ProgressJSON, &t.LogFile, &t.DurationMs, &t.ToolCount,
		&t.PromptVersion, &t.ProjectDir, &t.DeployURL, &t.DeployLabel,
	)
	if err != nil {
		return Task{}, err
	}
	t.Type = Type(typ)
	t.Subtype = Subtype(subtype)
	t.Status = Status(status)
	t.ErrorCategory = ErrorCategory(category)
	t.ExtractedAt = parseTime(extracted)
	if started.Valid && started.String != "" {
		ts := parseTime(started.String)
		t.StartedAt = &ts
	}
	if completed.Valid && completed.String != "" {
		ts := parseTime(completed.String)
		t.CompletedAt = &ts
	}
	if seq.Valid {
		idx := int(seq.Int64)
		t.SequenceIndex = &idx
	}
	t.CancelRequested = cancelled != 0
	return t, nil
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(ts *time.Time) any {
	if ts == nil {
		return nil
	}
	return formatTime(*ts)
}

func parseTime(raw string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
