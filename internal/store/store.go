// Package store provides SQLite-backed persistence for beacon: a mirror of
// every completed task and the audit trail of task transitions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/beacon/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides access to the beacon SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS completed_tasks (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		command TEXT NOT NULL,
		result TEXT,
		failed INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		dispatched_at DATETIME,
		completed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		task_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_completed_tasks_completed_at ON completed_tasks(completed_at);
	CREATE INDEX IF NOT EXISTS idx_pdr_task_id ON pdr(task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Completed Task Operations ---

// Append mirrors a completed task. It satisfies tasks.LogSink.
func (s *Store) Append(ctx context.Context, task models.Task) error {
	var resultJSON sql.NullString
	failed := false
	if task.Result != nil {
		data, err := json.Marshal(task.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		resultJSON = sql.NullString{String: string(data), Valid: true}
		failed = task.Result.IsFailure()
	}

	completedAt := time.Now().UTC()
	if task.CompletedAt != nil {
		completedAt = *task.CompletedAt
	}
	var dispatchedAt sql.NullTime
	if task.DispatchedAt != nil {
		dispatchedAt = sql.NullTime{Time: *task.DispatchedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completed_tasks (id, command, result, failed, status, created_at, dispatched_at, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Command, resultJSON, failed, task.Status, task.CreatedAt, dispatchedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("insert completed task: %w", err)
	}
	return nil
}

// ListCompleted returns the most recent completed tasks, newest first.
// A limit <= 0 returns all of them.
func (s *Store) ListCompleted(ctx context.Context, limit int) ([]models.Task, error) {
	query := `SELECT id, command, result, status, created_at, dispatched_at, completed_at FROM completed_tasks ORDER BY seq DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query completed tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var task models.Task
		var resultJSON sql.NullString
		var dispatchedAt, completedAt sql.NullTime

		if err := rows.Scan(&task.ID, &task.Command, &resultJSON, &task.Status, &task.CreatedAt, &dispatchedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan completed task: %w", err)
		}
		if resultJSON.Valid {
			var res models.Result
			if err := json.Unmarshal([]byte(resultJSON.String), &res); err == nil {
				task.Result = &res
			}
		}
		if dispatchedAt.Valid {
			task.DispatchedAt = &dispatchedAt.Time
		}
		if completedAt.Valid {
			task.CompletedAt = &completedAt.Time
		}
		task.Requested = true
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CountCompleted returns the number of mirrored tasks and how many of them
// carry a failure result.
func (s *Store) CountCompleted(ctx context.Context) (total, failed int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(failed), 0) FROM completed_tasks`,
	).Scan(&total, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("count completed tasks: %w", err)
	}
	return total, failed, nil
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, inputsHash, outcome, taskID, details string) (*models.PDREntry, error) {
	now := time.Now().UTC()
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		TaskID:     taskID,
		Details:    details,
		Timestamp:  now,
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, task_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.TaskID, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns audit records, oldest first, optionally filtered by task.
func (s *Store) ListPDR(taskID string) ([]models.PDREntry, error) {
	query := `SELECT id, action, inputs_hash, outcome, task_id, details, timestamp FROM pdr`
	var args []interface{}
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY timestamp ASC, rowid ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var tid, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &tid, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.TaskID = tid.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
