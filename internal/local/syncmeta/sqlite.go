// Package syncmeta provides the SQLite-backed sync metadata repository.
package syncmeta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mlevkov/tasksync/internal/common"
	"github.com/mlevkov/tasksync/internal/dbx"
	"github.com/mlevkov/tasksync/internal/models"
)

// SQLiteRepository implements Repository over a DBTX (*sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM sync_metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_metadata WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete metadata[%s]: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_metadata`)
	if err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Watermark(ctx context.Context) (models.Watermark, error) {
	var w models.Watermark

	raw, err := r.Get(ctx, common.MetaKeyLastSyncAt)
	if err != nil {
		return w, err
	}
	if len(raw) > 0 {
		t, err := time.Parse(time.RFC3339Nano, string(raw))
		if err != nil {
			return w, fmt.Errorf("corrupt watermark value: %w", err)
		}
		w.LastSyncAt = t
	}

	token, err := r.Get(ctx, common.MetaKeySyncToken)
	if err != nil {
		return w, err
	}
	w.SyncToken = string(token)
	return w, nil
}

func (r *SQLiteRepository) SetWatermark(ctx context.Context, w models.Watermark) error {
	if err := r.Set(ctx, common.MetaKeyLastSyncAt, []byte(w.LastSyncAt.UTC().Format(time.RFC3339Nano))); err != nil {
		return err
	}
	if w.SyncToken == "" {
		return r.Delete(ctx, common.MetaKeySyncToken)
	}
	return r.Set(ctx, common.MetaKeySyncToken, []byte(w.SyncToken))
}
