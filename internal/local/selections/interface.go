package selections

import (
	"context"
	"time"

	"github.com/mlevkov/tasksync/internal/models"
)

// Repository describes daily-selection persistence in the local store.
type Repository interface {
	// Upsert inserts a new selection or replaces an existing one by id.
	Upsert(ctx context.Context, s *models.DailySelection) error

	// GetByID returns a selection by id, tombstoned or not.
	// Returns common.ErrNotFound if no row exists.
	GetByID(ctx context.Context, id string) (*models.DailySelection, error)

	// ListForDay returns non-deleted selections for the account and day,
	// ordered by position.
	ListForDay(ctx context.Context, accountID, day string) ([]*models.DailySelection, error)

	// ChangedSince returns selections (including tombstones) with
	// updated_at strictly after since. A zero since returns everything.
	ChangedSince(ctx context.Context, accountID string, since time.Time) ([]*models.DailySelection, error)

	// SoftDelete tombstones a selection and attributes the write to deviceID.
	SoftDelete(ctx context.Context, id, deviceID string, at time.Time) error
}
