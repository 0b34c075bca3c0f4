package syncmeta

import (
	"context"

	"github.com/mlevkov/tasksync/internal/models"
)

// Repository stores per-device sync metadata: the sync watermark and small
// key/value items such as the cached access token.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Clear wipes all metadata; used on account sign-out.
	Clear(ctx context.Context) error

	// Watermark returns the stored watermark; a zero value if none yet.
	Watermark(ctx context.Context) (models.Watermark, error)

	// SetWatermark persists the watermark after a successful cycle.
	SetWatermark(ctx context.Context, w models.Watermark) error
}
