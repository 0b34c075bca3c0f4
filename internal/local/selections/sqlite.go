// Package selections provides the SQLite-backed daily-selection repository
// of the local store.
package selections

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

const selectionColumns = `id, account_id, device_id, day, task_id, position,
	created_at, updated_at, deleted_at, sync_version`

func (r *SQLiteRepository) Upsert(ctx context.Context, s *models.DailySelection) error {
	query := `INSERT INTO daily_selections (` + selectionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_id = excluded.device_id,
			day = excluded.day,
			task_id = excluded.task_id,
			position = excluded.position,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at,
			sync_version = excluded.sync_version`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.AccountID, sqlitex.NullString(s.DeviceID), s.Day, s.TaskID, s.Position,
		sqlitex.Ms(s.CreatedAt), sqlitex.Ms(s.UpdatedAt), sqlitex.MsPtr(s.DeletedAt), s.SyncVersion)
	if err != nil {
		return fmt.Errorf("failed to upsert selection: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.DailySelection, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectionColumns+` FROM daily_selections WHERE id = ?`, id)
	s, err := scanSelection(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get selection: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) ListForDay(ctx context.Context, accountID, day string) ([]*models.DailySelection, error) {
	query := `SELECT ` + selectionColumns + ` FROM daily_selections
		WHERE account_id = ? AND day = ? AND deleted_at IS NULL
		ORDER BY position, created_at`
	return r.querySelections(ctx, query, accountID, day)
}

func (r *SQLiteRepository) ChangedSince(ctx context.Context, accountID string, since time.Time) ([]*models.DailySelection, error) {
	query := `SELECT ` + selectionColumns + ` FROM daily_selections
		WHERE account_id = ? AND updated_at > ?
		ORDER BY updated_at`
	return r.querySelections(ctx, query, accountID, sqlitex.Ms(since))
}

func (r *SQLiteRepository) SoftDelete(ctx context.Context, id, deviceID string, at time.Time) error {
	query := `UPDATE daily_selections
		SET deleted_at = ?, updated_at = ?, device_id = ?, sync_version = sync_version + 1
		WHERE id = ? AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, sqlitex.Ms(at), sqlitex.Ms(at), deviceID, id)
	if err != nil {
		return fmt.Errorf("failed to delete selection: %w", err)
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

func (r *SQLiteRepository) querySelections(ctx context.Context, query string, args ...any) ([]*models.DailySelection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select selections: %w", err)
	}
	defer rows.Close()

	var result []*models.DailySelection
	for rows.Next() {
		s, err := scanSelection(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanSelection(scan func(dest ...any) error) (*models.DailySelection, error) {
	var (
		s         models.DailySelection
		deviceID  sql.NullString
		createdAt int64
		updatedAt int64
		deletedAt sql.NullInt64
	)
	if err := scan(&s.ID, &s.AccountID, &deviceID, &s.Day, &s.TaskID, &s.Position,
		&createdAt, &updatedAt, &deletedAt, &s.SyncVersion); err != nil {
		return nil, err
	}
	s.DeviceID = sqlitex.FromNullString(deviceID)
	s.CreatedAt = sqlitex.FromMs(createdAt)
	s.UpdatedAt = sqlitex.FromMs(updatedAt)
	s.DeletedAt = sqlitex.FromNullMs(deletedAt)
	return &s, nil
}
