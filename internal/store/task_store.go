package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/carzbazzar/api/internal/model"

	_ "modernc.org/sqlite"
)

// TaskStore mirrors the upload queue into a local sqlite database so queued
// captures survive a restart. Queue order is kept in the seq column.
type TaskStore struct {
	db *sql.DB
}

// OpenTaskStore opens (and creates if needed) the queue database at path
func OpenTaskStore(path string) (*TaskStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init queue db: %w", err)
	}
	return &TaskStore{db: db}, nil
}

func (s *TaskStore) Close() error {
	return s.db.Close()
}

// SaveTask upserts a task. A task replacing another one with the same id or
// the same (inspection, section) pair takes over its seq, i.e. its slot.
func (s *TaskStore) SaveTask(ctx context.Context, t model.UploadTask) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `
SELECT seq FROM upload_tasks
WHERE id = ? OR (inspection_id = ? AND section_key = ?)
ORDER BY seq
LIMIT 1`, t.ID, t.InspectionID, t.SectionKey).Scan(&seq)
	switch {
	case err == sql.ErrNoRows:
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM upload_tasks`).Scan(&seq); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	if _, err := tx.ExecContext(ctx, `
DELETE FROM upload_tasks
WHERE id = ? OR (inspection_id = ? AND section_key = ?)`,
		t.ID, t.InspectionID, t.SectionKey,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO upload_tasks
	(id, seq, inspection_id, section_key, local_path, media_type, remark,
	 status, attempts, progress, uploaded, url, last_error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, seq, t.InspectionID, t.SectionKey, t.LocalPath, string(t.MediaType), t.Remark,
		string(t.Status), t.Attempts, t.Progress, boolInt(t.Uploaded), t.URL, t.LastError,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteTask removes a task; deleting a missing task is not an error
func (s *TaskStore) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM upload_tasks WHERE id = ?`, taskID)
	return err
}

// LoadTasks returns the persisted queue in order
func (s *TaskStore) LoadTasks(ctx context.Context) ([]model.UploadTask, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, inspection_id, section_key, local_path, media_type, remark,
	status, attempts, progress, uploaded, url, last_error, created_at, updated_at
FROM upload_tasks
ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UploadTask
	for rows.Next() {
		var (
			t                    model.UploadTask
			mediaType, status    string
			uploaded             int64
			createdAt, updatedAt string
		)
		if err := rows.Scan(
			&t.ID, &t.InspectionID, &t.SectionKey, &t.LocalPath, &mediaType, &t.Remark,
			&status, &t.Attempts, &t.Progress, &uploaded, &t.URL, &t.LastError, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}
		t.MediaType = model.MediaType(mediaType)
		t.Status = model.TaskStatus(status)
		t.Uploaded = uploaded == 1
		t.CreatedAt = parseTime(createdAt)
		t.UpdatedAt = parseTime(updatedAt)
		out = append(out, t)
	}

	return out, rows.Err()
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
