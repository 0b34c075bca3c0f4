// Package tasks provides the SQLite-backed task repository of the local store.
package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mlevkov/tasksync/internal/common"
	"github.com/mlevkov/tasksync/internal/dbx"
	"github.com/mlevkov/tasksync/internal/local/sqlitex"
	"github.com/mlevkov/tasksync/internal/models"
)

// SQLiteRepository implements Repository over a DBTX (*sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a repository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const taskColumns = `id, account_id, device_id, title, notes, status, priority, due_date,
	created_at, updated_at, deleted_at, sync_version`

func (r *SQLiteRepository) Upsert(ctx context.Context, t *models.Task) error {
	query := `INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_id = excluded.device_id,
			title = excluded.title,
			notes = excluded.notes,
			status = excluded.status,
			priority = excluded.priority,
			due_date = excluded.due_date,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at,
			sync_version = excluded.sync_version`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.AccountID, sqlitex.NullString(t.DeviceID), t.Title, t.Notes, string(t.Status),
		t.Priority, t.DueDate, sqlitex.Ms(t.CreatedAt), sqlitex.Ms(t.UpdatedAt),
		sqlitex.MsPtr(t.DeletedAt), t.SyncVersion)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) ListActive(ctx context.Context, accountID string) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE account_id = ? AND deleted_at IS NULL
		ORDER BY priority DESC, created_at`
	return r.queryTasks(ctx, query, accountID)
}

func (r *SQLiteRepository) ChangedSince(ctx context.Context, accountID string, since time.Time) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE account_id = ? AND updated_at > ?
		ORDER BY updated_at`
	return r.queryTasks(ctx, query, accountID, sqlitex.Ms(since))
}

func (r *SQLiteRepository) SoftDelete(ctx context.Context, id, deviceID string, at time.Time) error {
	query := `UPDATE tasks
		SET deleted_at = ?, updated_at = ?, device_id = ?, sync_version = sync_version + 1
		WHERE id = ? AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, sqlitex.Ms(at), sqlitex.Ms(at), deviceID, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select tasks: %w", err)
	}
	defer rows.Close()

	var result []*models.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanTask(scan func(dest ...any) error) (*models.Task, error) {
	var (
		t         models.Task
		status    string
		deviceID  sql.NullString
		createdAt int64
		updatedAt int64
		deletedAt sql.NullInt64
	)
	if err := scan(&t.ID, &t.AccountID, &deviceID, &t.Title, &t.Notes, &status, &t.Priority,
		&t.DueDate, &createdAt, &updatedAt, &deletedAt, &t.SyncVersion); err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	t.DeviceID = sqlitex.FromNullString(deviceID)
	t.CreatedAt = sqlitex.FromMs(createdAt)
	t.UpdatedAt = sqlitex.FromMs(updatedAt)
	t.DeletedAt = sqlitex.FromNullMs(deletedAt)
	return &t, nil
}
