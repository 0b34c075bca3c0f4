package logs

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/mlevkov/tasksync/internal/common"
	"github.com/mlevkov/tasksync/internal/models"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE task_logs (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  device_id TEXT,
  task_id TEXT NOT NULL,
  action TEXT NOT NULL,
  detail TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  deleted_at INTEGER,
  sync_version INTEGER NOT NULL DEFAULT 0
);
`)
	require.NoError(t, err)
	return db
}

func TestInsert_AppendOnly(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	l := models.NewTaskLog("acc1", "dev1", "task-1", "completed", "")
	require.NoError(t, r.Insert(ctx, l))

	// re-inserting the same id is a no-op, not an overwrite
	dup := *l
	dup.Detail = "changed"
	require.NoError(t, r.Insert(ctx, &dup))

	got, err := r.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got.Detail)
}

func TestListForTask_Ordered(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	base := models.Now()

	first := models.NewTaskLog("acc1", "dev1", "task-1", "created", "")
	first.CreatedAt = base.Add(-time.Minute)
	first.UpdatedAt = first.CreatedAt
	second := models.NewTaskLog("acc1", "dev1", "task-1", "completed", "")
	second.CreatedAt = base
	second.UpdatedAt = base
	other := models.NewTaskLog("acc1", "dev1", "task-2", "created", "")
	require.NoError(t, r.Insert(ctx, second))
	require.NoError(t, r.Insert(ctx, first))
	require.NoError(t, r.Insert(ctx, other))

	got, err := r.ListForTask(ctx, "acc1", "task-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "created", got[0].Action)
	assert.Equal(t, "completed", got[1].Action)
}

func TestChangedSince(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	base := models.Now()

	old := models.NewTaskLog("acc1", "dev1", "task-1", "created", "")
	old.CreatedAt = base.Add(-time.Hour)
	old.UpdatedAt = old.CreatedAt
	recent := models.NewTaskLog("acc1", "dev1", "task-1", "completed", "")
	recent.CreatedAt = base
	recent.UpdatedAt = base
	require.NoError(t, r.Insert(ctx, old))
	require.NoError(t, r.Insert(ctx, recent))

	got, err := r.ChangedSince(ctx, "acc1", base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, recent.ID, got[0].ID)
}

func TestGetByID_NotFound(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	_, err := r.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
