// Package models defines the synchronized record types and their shared
// sync metadata.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncMeta is the shape shared by every synchronized record.
//
// ID is client-generated and immutable; UUIDv7 keeps ids sortable by
// creation time. DeviceID names the device that last wrote the record and
// is nil for server-origin writes. UpdatedAt is the sole conflict
// tie-breaker. DeletedAt is a tombstone: deletion is never a physical row
// removal, so it can itself be synchronized and win or lose conflicts like
// any other field change. SyncVersion is bumped on every write and is
// informational only.
type SyncMeta struct {
	ID          string
	AccountID   string
	DeviceID    *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
	SyncVersion int64
}

// Syncable is implemented by every record type that embeds SyncMeta.
type Syncable interface {
	Meta() *SyncMeta
}

func (m *SyncMeta) Meta() *SyncMeta { return m }

// Deleted reports whether the record carries a tombstone.
func (m *SyncMeta) Deleted() bool { return m.DeletedAt != nil }

// Touch records a local write: stamps UpdatedAt, attributes the write to
// deviceID and bumps SyncVersion.
func (m *SyncMeta) Touch(deviceID string, now time.Time) {
	m.UpdatedAt = now.UTC().Truncate(time.Millisecond)
	m.DeviceID = &deviceID
	m.SyncVersion++
}

// MarkDeleted sets the tombstone and records the write like Touch.
func (m *SyncMeta) MarkDeleted(deviceID string, now time.Time) {
	at := now.UTC().Truncate(time.Millisecond)
	m.DeletedAt = &at
	m.Touch(deviceID, now)
}

// NewID returns a fresh sortable record id.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Now returns the current UTC time at the millisecond precision records
// are stored with. Keeping a single precision on both stores makes
// timestamp-equality checks (echo suppression, resolver ties) exact.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func newMeta(accountID, deviceID string) SyncMeta {
	now := Now()
	return SyncMeta{
		ID:          NewID(),
		AccountID:   accountID,
		DeviceID:    &deviceID,
		CreatedAt:   now,
		UpdatedAt:   now,
		SyncVersion: 1,
	}
}
