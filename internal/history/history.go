package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// History manages deployment history in SQLite
type History struct {
	db *sql.DB
}

// NewHistory creates a new history tracker
func NewHistory(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db}

	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return h, nil
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS deployments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			deployment_id TEXT NOT NULL UNIQUE,
			project TEXT NOT NULL,
			build_tag TEXT NOT NULL,
			branch TEXT NOT NULL,
			status TEXT NOT NULL,
			error_kind TEXT,
			commit_hash TEXT,
			file_count INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_seconds REAL,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_project_id
		ON deployments(project, id DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// RecordDeployment inserts record and returns its row ID. A missing
// DeploymentID is generated and a zero StartedAt means now; both are written
// back to record.
func (h *History) RecordDeployment(ctx context.Context, record *DeploymentRecord) (int64, error) {
	now := time.Now().UTC()

	if record.DeploymentID == "" {
		record.DeploymentID = uuid.NewString()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = now
	}
	if record.CompletedAt == nil && record.Status != StatusInProgress {
		record.CompletedAt = &now
	}

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO deployments
		(deployment_id, project, build_tag, branch, status, error_kind, commit_hash,
		 file_count, started_at, completed_at, duration_seconds, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.DeploymentID,
		record.Project,
		record.BuildTag,
		record.Branch,
		record.Status,
		record.ErrorKind,
		record.CommitHash,
		record.FileCount,
		record.StartedAt.UTC().Format(timeLayout),
		formatTime(record.CompletedAt),
		record.DurationSeconds,
		record.ErrorMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deployment record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	record.ID = id

	return id, nil
}

// CompleteDeployment stores the outcome of a deployment previously recorded
// as in progress, matched by DeploymentID.
func (h *History) CompleteDeployment(ctx context.Context, record *DeploymentRecord) error {
	if record.CompletedAt == nil {
		now := time.Now().UTC()
		record.CompletedAt = &now
	}

	result, err := h.db.ExecContext(ctx, `
		UPDATE deployments
		SET status = ?, error_kind = ?, commit_hash = ?, file_count = ?,
		    completed_at = ?, duration_seconds = ?, error_message = ?
		WHERE deployment_id = ?
	`,
		record.Status,
		record.ErrorKind,
		record.CommitHash,
		record.FileCount,
		formatTime(record.CompletedAt),
		record.DurationSeconds,
		record.ErrorMessage,
		record.DeploymentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update deployment record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("deployment %s not found", record.DeploymentID)
	}

	return nil
}

// GetLatestDeployment returns the most recent deployment for a project, or
// nil if it has none.
func (h *History) GetLatestDeployment(ctx context.Context, project string) (*DeploymentRecord, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM deployments
		WHERE project = ?
		ORDER BY id DESC
		LIMIT 1
	`, project)

	record, err := scanDeploymentRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest deployment: %w", err)
	}

	return record, nil
}

// GetDeploymentHistory returns deployment history for a project, newest first
func (h *History) GetDeploymentHistory(ctx context.Context, project string, limit int) ([]DeploymentRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM deployments
		WHERE project = ?
		ORDER BY id DESC
		LIMIT ?
	`, project, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment history: %w", err)
	}
	defer rows.Close()

	records := []DeploymentRecord{}
	for rows.Next() {
		record, err := scanDeploymentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// GetAllProjectsStatus returns the latest deployment for each project
func (h *History) GetAllProjectsStatus(ctx context.Context) (map[string]*DeploymentRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM deployments
		WHERE id IN (SELECT MAX(id) FROM deployments GROUP BY project)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query all projects status: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*DeploymentRecord)
	for rows.Next() {
		record, err := scanDeploymentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment record: %w", err)
		}
		result[record.Project] = record
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

const recordColumns = `id, deployment_id, project, build_tag, branch, status, error_kind,
		       commit_hash, file_count, started_at, completed_at, duration_seconds, error_message`

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeploymentRecord(s scanner) (*DeploymentRecord, error) {
	var record DeploymentRecord
	var startedAtStr string
	var completedAtStr sql.NullString

	err := s.Scan(
		&record.ID,
		&record.DeploymentID,
		&record.Project,
		&record.BuildTag,
		&record.Branch,
		&record.Status,
		&record.ErrorKind,
		&record.CommitHash,
		&record.FileCount,
		&startedAtStr,
		&completedAtStr,
		&record.DurationSeconds,
		&record.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(timeLayout, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(timeLayout, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}

	return &record, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}
