package models

import "time"

// Watermark is the per-device sync boundary: only records changed after
// LastSyncAt are pulled on the next cycle. A zero LastSyncAt means the
// device has never synced and a full bootstrap pull is performed.
// SyncToken is an opaque remote cursor, reserved for future use.
type Watermark struct {
	LastSyncAt time.Time
	SyncToken  string
}

// Zero reports whether the watermark marks a never-synced device.
func (w Watermark) Zero() bool { return w.LastSyncAt.IsZero() }

// Lease is the master-device claim for an account. At most one non-expired
// lease exists per account at any instant.
type Lease struct {
	AccountID string
	DeviceID  string
	ExpiresAt time.Time
}

// Expired reports whether the lease has lapsed as of now.
func (l Lease) Expired(now time.Time) bool { return !l.ExpiresAt.After(now) }
