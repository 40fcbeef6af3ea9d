package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ljacobsen/foreman/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStore persists tasks in a single SQLite file opened in WAL
// mode. A transition is committed before Save returns; a crash can lose
// at most progress appended after the last Save. Single-writer: only
// the task manager issues writes.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
}

// NewSQLiteStore opens (and if needed creates) the task database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{dbPath: dbPath, db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet, run initial migration
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Save upserts the full task row inside a transaction.
func (s *SQLiteStore) Save(ctx context.Context, task *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	progressJSON, err := marshalNullable(task.Progress)
	if err != nil {
		return fmt.Errorf("marshaling progress: %w", err)
	}
	resultJSON, err := marshalNullable(task.Result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (
			id, session_id, goal, status, harness, workspace,
			progress, result, error, pending_question, retry_count,
			created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			result = excluded.result,
			error = excluded.error,
			pending_question = excluded.pending_question,
			retry_count = excluded.retry_count,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`,
		string(task.ID), string(task.SessionID), task.Goal, string(task.Status),
		task.Harness, task.Workspace,
		progressJSON, resultJSON,
		nullableString(task.Error), nullableString(task.PendingQuestion), task.RetryCount,
		task.CreatedAt, nullableTime(task.StartedAt), nullableTime(task.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting task %s: %w", task.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing task %s: %w", task.ID, err)
	}
	return nil
}

// Get loads one task by id.
func (s *SQLiteStore) Get(ctx context.Context, id core.TaskID) (*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectColumns+" FROM tasks WHERE id = ?", string(id))
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("task", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", id, err)
	}
	return task, nil
}

// List returns tasks matching the filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter core.ListFilter) ([]*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectColumns + " FROM tasks WHERE 1=1"
	var args []any
	if filter.Session != "" {
		query += " AND session_id = ?"
		args = append(args, string(filter.Session))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Interrupted returns rows a prior run left in a non-terminal live
// state. Used once at startup, before any new task is accepted.
func (s *SQLiteStore) Interrupted(ctx context.Context) ([]*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		selectColumns+" FROM tasks WHERE status IN (?, ?) ORDER BY created_at",
		string(core.StatusRunning), string(core.StatusWaitingInput))
	if err != nil {
		return nil, fmt.Errorf("querying interrupted tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning interrupted row: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

const selectColumns = `SELECT id, session_id, goal, status, harness, workspace,
	progress, result, error, pending_question, retry_count,
	created_at, started_at, completed_at`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*core.Task, error) {
	var (
		task            core.Task
		id, session     string
		status          string
		progressJSON    sql.NullString
		resultJSON      sql.NullString
		errMsg          sql.NullString
		pendingQuestion sql.NullString
		startedAt       sql.NullTime
		completedAt     sql.NullTime
	)
	err := row.Scan(
		&id, &session, &task.Goal, &status, &task.Harness, &task.Workspace,
		&progressJSON, &resultJSON, &errMsg, &pendingQuestion, &task.RetryCount,
		&task.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.ID = core.TaskID(id)
	task.SessionID = core.SessionID(session)
	task.Status = core.Status(status)
	task.Error = errMsg.String
	task.PendingQuestion = pendingQuestion.String

	if progressJSON.Valid && progressJSON.String != "" {
		if err := json.Unmarshal([]byte(progressJSON.String), &task.Progress); err != nil {
			return nil, fmt.Errorf("unmarshaling progress: %w", err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &task.Result); err != nil {
			return nil, fmt.Errorf("unmarshaling result: %w", err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		task.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}
	return &task, nil
}

func marshalNullable(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case []core.ProgressEntry:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case *core.Result:
		if val == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ core.TaskStore = (*SQLiteStore)(nil)
