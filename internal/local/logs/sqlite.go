// Package logs provides the SQLite-backed task-log repository of the local
// store.
package logs

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

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const logColumns = `id, account_id, device_id, task_id, action, detail,
	created_at, updated_at, deleted_at, sync_version`

func (r *SQLiteRepository) Insert(ctx context.Context, l *models.TaskLog) error {
	query := `INSERT INTO task_logs (` + logColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query,
		l.ID, l.AccountID, sqlitex.NullString(l.DeviceID), l.TaskID, l.Action, l.Detail,
		sqlitex.Ms(l.CreatedAt), sqlitex.Ms(l.UpdatedAt), sqlitex.MsPtr(l.DeletedAt), l.SyncVersion)
	if err != nil {
		return fmt.Errorf("failed to insert task log: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.TaskLog, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+logColumns+` FROM task_logs WHERE id = ?`, id)
	l, err := scanLog(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task log: %w", err)
	}
	return l, nil
}

func (r *SQLiteRepository) ListForTask(ctx context.Context, accountID, taskID string) ([]*models.TaskLog, error) {
	query := `SELECT ` + logColumns + ` FROM task_logs
		WHERE account_id = ? AND task_id = ? AND deleted_at IS NULL
		ORDER BY created_at`
	return r.queryLogs(ctx, query, accountID, taskID)
}

func (r *SQLiteRepository) ChangedSince(ctx context.Context, accountID string, since time.Time) ([]*models.TaskLog, error) {
	query := `SELECT ` + logColumns + ` FROM task_logs
		WHERE account_id = ? AND updated_at > ?
		ORDER BY updated_at`
	return r.queryLogs(ctx, query, accountID, sqlitex.Ms(since))
}

func (r *SQLiteRepository) queryLogs(ctx context.Context, query string, args ...any) ([]*models.TaskLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select task logs: %w", err)
	}
	defer rows.Close()

	var result []*models.TaskLog
	for rows.Next() {
		l, err := scanLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanLog(scan func(dest ...any) error) (*models.TaskLog, error) {
	var (
		l         models.TaskLog
		deviceID  sql.NullString
		createdAt int64
		updatedAt int64
		deletedAt sql.NullInt64
	)
	if err := scan(&l.ID, &l.AccountID, &deviceID, &l.TaskID, &l.Action, &l.Detail,
		&createdAt, &updatedAt, &deletedAt, &l.SyncVersion); err != nil {
		return nil, err
	}
	l.DeviceID = sqlitex.FromNullString(deviceID)
	l.CreatedAt = sqlitex.FromMs(createdAt)
	l.UpdatedAt = sqlitex.FromMs(updatedAt)
	l.DeletedAt = sqlitex.FromNullMs(deletedAt)
	return &l, nil
}
