// Package remote defines the engine's view of the authoritative remote
// store: watermark-bounded pulls, idempotent pushes, the master-lease
// primitives and the per-entity change stream. The engine depends on these
// interfaces only; internal/remote/postgres implements them.
package remote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mlevkov/tasksync/internal/models"
)

// Store is row-level CRUD against the remote backend.
//
// Pull methods return records (tombstones included) with updated_at
// strictly after since; a zero since returns every record of the account.
// Push methods MUST be insert-or-update keyed by id, never plain insert,
// so that re-pushing after a failed watermark advance is idempotent.
type Store interface {
	PullTasks(ctx context.Context, accountID string, since time.Time) ([]*models.Task, error)
	PushTasks(ctx context.Context, records []*models.Task) error

	PullSelections(ctx context.Context, accountID string, since time.Time) ([]*models.DailySelection, error)
	PushSelections(ctx context.Context, records []*models.DailySelection) error

	PullLogs(ctx context.Context, accountID string, since time.Time) ([]*models.TaskLog, error)
	PushLogs(ctx context.Context, records []*models.TaskLog) error
}

// LeaseStore exposes the conditional-write primitives the master-device
// coordinator builds on. Insert-on-absence and the expired-lease CAS are
// the only two paths that can establish mastership; both lean on the
// backend's uniqueness and conditional-update guarantees, not client locks.
type LeaseStore interface {
	// GetLease returns the lease row for the account, or nil if none.
	GetLease(ctx context.Context, accountID string) (*models.Lease, error)

	// InsertLease creates the lease row; returns common.ErrLeaseHeld if
	// another device raced the insert.
	InsertLease(ctx context.Context, lease models.Lease) error

	// ExtendLease pushes out expires_at iff the lease is currently held
	// by deviceID and unexpired. Reports whether a row was updated.
	ExtendLease(ctx context.Context, accountID, deviceID string, expiresAt time.Time) (bool, error)

	// ClaimExpiredLease takes over the lease iff it has expired
	// (expires_at <= now, evaluated server-side). Reports whether a row
	// was updated.
	ClaimExpiredLease(ctx context.Context, accountID, deviceID string, expiresAt time.Time) (bool, error)

	// DeleteLease removes the lease only if owned by deviceID.
	DeleteLease(ctx context.Context, accountID, deviceID string) error
}

// EventType tags an inbound change event.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is one change-stream notification: the operation plus raw
// row images. Old may be absent for inserts; New is absent for hard
// deletes. Decoding into entity types happens at the subscriber boundary.
type ChangeEvent struct {
	Entity string          `json:"-"`
	Type   EventType       `json:"eventType"`
	New    json.RawMessage `json:"new"`
	Old    json.RawMessage `json:"old"`
}

// Subscription is one live change channel. Events is closed when the
// channel dies; Err then reports why (nil for a clean Close).
type Subscription interface {
	Events() <-chan ChangeEvent
	Err() error
	Close(ctx context.Context) error
}

// Listener opens filtered change channels, one per (entity, account) pair.
type Listener interface {
	Listen(ctx context.Context, entity, accountID string) (Subscription, error)
}
