package tasks

import (
	"context"
	"time"

	"github.com/mlevkov/tasksync/internal/models"
)

// Repository describes task persistence in the local store.
//
// Reads that list "active" records filter tombstones explicitly; deleted
// rows are retained so the deletion itself can synchronize.
type Repository interface {
	// Upsert inserts a new task or replaces an existing one by id.
	Upsert(ctx context.Context, t *models.Task) error

	// GetByID returns a task by id, tombstoned or not.
	// Returns common.ErrNotFound if no row exists.
	GetByID(ctx context.Context, id string) (*models.Task, error)

	// ListActive returns non-deleted tasks for the account.
	ListActive(ctx context.Context, accountID string) ([]*models.Task, error)

	// ChangedSince returns tasks (including tombstones) with
	// updated_at strictly after since. A zero since returns everything.
	ChangedSince(ctx context.Context, accountID string, since time.Time) ([]*models.Task, error)

	// SoftDelete tombstones a task and attributes the write to deviceID.
	SoftDelete(ctx context.Context, id, deviceID string, at time.Time) error
}
