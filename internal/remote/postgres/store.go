package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mlevkov/tasksync/internal/models"
)

// Pushes write the client-side timestamps verbatim, so re-pushing an
// unchanged record leaves the remote row byte-identical (idempotent push).
// The ON CONFLICT guard on account_id prevents an id collision from ever
// crossing account boundaries, mirroring the row-level filter on pulls.

func (c *Client) PullTasks(ctx context.Context, accountID string, since time.Time) ([]*models.Task, error) {
	query := `SELECT id, account_id, device_id, title, notes, status, priority, due_date,
			created_at, updated_at, deleted_at, sync_version
		FROM tasks
		WHERE account_id = $1 AND updated_at > $2
		ORDER BY updated_at`
	rows, err := c.pool.Query(ctx, query, accountID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("pull tasks: %w", err)
	}
	defer rows.Close()

	var result []*models.Task
	for rows.Next() {
		var (
			t         models.Task
			status    string
			createdAt time.Time
			updatedAt time.Time
			deletedAt *time.Time
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &t.DeviceID, &t.Title, &t.Notes, &status,
			&t.Priority, &t.DueDate, &createdAt, &updatedAt, &deletedAt, &t.SyncVersion); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Status = models.TaskStatus(status)
		t.CreatedAt = createdAt.UTC()
		t.UpdatedAt = updatedAt.UTC()
		t.DeletedAt = utcPtr(deletedAt)
		result = append(result, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) PushTasks(ctx context.Context, records []*models.Task) error {
	query := `INSERT INTO tasks (id, account_id, device_id, title, notes, status, priority, due_date,
			created_at, updated_at, deleted_at, sync_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			device_id = EXCLUDED.device_id,
			title = EXCLUDED.title,
			notes = EXCLUDED.notes,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			due_date = EXCLUDED.due_date,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at,
			sync_version = EXCLUDED.sync_version
		WHERE tasks.account_id = EXCLUDED.account_id`
	return c.pushBatch(ctx, "tasks", len(records), func(tx pgx.Tx, i int) error {
		t := records[i]
		_, err := tx.Exec(ctx, query,
			t.ID, t.AccountID, t.DeviceID, t.Title, t.Notes, string(t.Status), t.Priority,
			t.DueDate, t.CreatedAt, t.UpdatedAt, t.DeletedAt, t.SyncVersion)
		return err
	})
}

func (c *Client) PullSelections(ctx context.Context, accountID string, since time.Time) ([]*models.DailySelection, error) {
	query := `SELECT id, account_id, device_id, day, task_id, position,
			created_at, updated_at, deleted_at, sync_version
		FROM daily_selections
		WHERE account_id = $1 AND updated_at > $2
		ORDER BY updated_at`
	rows, err := c.pool.Query(ctx, query, accountID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("pull selections: %w", err)
	}
	defer rows.Close()

	var result []*models.DailySelection
	for rows.Next() {
		var (
			s         models.DailySelection
			createdAt time.Time
			updatedAt time.Time
			deletedAt *time.Time
		)
		if err := rows.Scan(&s.ID, &s.AccountID, &s.DeviceID, &s.Day, &s.TaskID, &s.Position,
			&createdAt, &updatedAt, &deletedAt, &s.SyncVersion); err != nil {
			return nil, fmt.Errorf("scan selection: %w", err)
		}
		s.CreatedAt = createdAt.UTC()
		s.UpdatedAt = updatedAt.UTC()
		s.DeletedAt = utcPtr(deletedAt)
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) PushSelections(ctx context.Context, records []*models.DailySelection) error {
	query := `INSERT INTO daily_selections (id, account_id, device_id, day, task_id, position,
			created_at, updated_at, deleted_at, sync_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			device_id = EXCLUDED.device_id,
			day = EXCLUDED.day,
			task_id = EXCLUDED.task_id,
			position = EXCLUDED.position,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at,
			sync_version = EXCLUDED.sync_version
		WHERE daily_selections.account_id = EXCLUDED.account_id`
	return c.pushBatch(ctx, "daily_selections", len(records), func(tx pgx.Tx, i int) error {
		s := records[i]
		_, err := tx.Exec(ctx, query,
			s.ID, s.AccountID, s.DeviceID, s.Day, s.TaskID, s.Position,
			s.CreatedAt, s.UpdatedAt, s.DeletedAt, s.SyncVersion)
		return err
	})
}

func (c *Client) PullLogs(ctx context.Context, accountID string, since time.Time) ([]*models.TaskLog, error) {
	query := `SELECT id, account_id, device_id, task_id, action, detail,
			created_at, updated_at, deleted_at, sync_version
		FROM task_logs
		WHERE account_id = $1 AND updated_at > $2
		ORDER BY updated_at`
	rows, err := c.pool.Query(ctx, query, accountID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("pull task logs: %w", err)
	}
	defer rows.Close()

	var result []*models.TaskLog
	for rows.Next() {
		var (
			l         models.TaskLog
			createdAt time.Time
			updatedAt time.Time
			deletedAt *time.Time
		)
		if err := rows.Scan(&l.ID, &l.AccountID, &l.DeviceID, &l.TaskID, &l.Action, &l.Detail,
			&createdAt, &updatedAt, &deletedAt, &l.SyncVersion); err != nil {
			return nil, fmt.Errorf("scan task log: %w", err)
		}
		l.CreatedAt = createdAt.UTC()
		l.UpdatedAt = updatedAt.UTC()
		l.DeletedAt = utcPtr(deletedAt)
		result = append(result, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) PushLogs(ctx context.Context, records []*models.TaskLog) error {
	// Logs are append-only; an existing id never changes.
	query := `INSERT INTO task_logs (id, account_id, device_id, task_id, action, detail,
			created_at, updated_at, deleted_at, sync_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`
	return c.pushBatch(ctx, "task_logs", len(records), func(tx pgx.Tx, i int) error {
		l := records[i]
		_, err := tx.Exec(ctx, query,
			l.ID, l.AccountID, l.DeviceID, l.TaskID, l.Action, l.Detail,
			l.CreatedAt, l.UpdatedAt, l.DeletedAt, l.SyncVersion)
		return err
	})
}

// pushBatch runs n per-record statements in one remote transaction.
func (c *Client) pushBatch(ctx context.Context, entity string, n int, exec func(tx pgx.Tx, i int) error) error {
	if n == 0 {
		return nil
	}
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("push %s: begin: %w", entity, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := 0; i < n; i++ {
		if err := exec(tx, i); err != nil {
			return fmt.Errorf("push %s: %w", entity, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("push %s: commit: %w", entity, err)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
