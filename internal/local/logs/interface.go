package logs

import (
	"context"
	"time"

	"github.com/mlevkov/tasksync/internal/models"
)

// Repository describes task-log persistence in the local store. Logs are
// append-only: an id that already exists is never overwritten.
type Repository interface {
	// Insert adds a log entry; an existing id is left untouched, which
	// makes merge application a plain set union.
	Insert(ctx context.Context, l *models.TaskLog) error

	// GetByID returns a log entry by id.
	// Returns common.ErrNotFound if no row exists.
	GetByID(ctx context.Context, id string) (*models.TaskLog, error)

	// ListForTask returns log entries for a task, oldest first.
	ListForTask(ctx context.Context, accountID, taskID string) ([]*models.TaskLog, error)

	// ChangedSince returns log entries with updated_at strictly after
	// since. A zero since returns everything.
	ChangedSince(ctx context.Context, accountID string, since time.Time) ([]*models.TaskLog, error)
}
