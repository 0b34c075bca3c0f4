package sync

import (
	"fmt"
	"time"
)

// ErrorCode classifies sync failures for callers and for the status UI.
type ErrorCode string

const (
	// CodeAuth means no authenticated account; the cycle is skipped
	// before any network call and is not retried automatically.
	CodeAuth ErrorCode = "AUTH_ERROR"
	// CodeNetwork covers transient remote failures; the next scheduled
	// cycle retries them.
	CodeNetwork ErrorCode = "NETWORK_ERROR"
	// CodeSubscription is a per-channel realtime failure.
	CodeSubscription ErrorCode = "SUBSCRIPTION_ERROR"
	// CodeLocalStore marks local persistence failures (disk full,
	// corruption). No retry can fix them; the lifecycle layer must
	// surface them to the user instead of rescheduling.
	CodeLocalStore ErrorCode = "LOCAL_STORE_ERROR"
	// CodeSync is the catch-all for unexpected failures during a cycle.
	CodeSync ErrorCode = "SYNC_ERROR"
)

// SyncError is the only error shape that crosses the engine's public
// boundary. Details carries per-entity failure messages.
type SyncError struct {
	Code    ErrorCode
	Message string
	Details map[string]string
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Fatal reports whether this is a local persistence failure, the one
// class where retrying cannot help.
func (e *SyncError) Fatal() bool {
	return e.Code == CodeLocalStore
}

func newSyncError(code ErrorCode, message string) *SyncError {
	return &SyncError{Code: code, Message: message}
}

// SyncResult reports one cycle's outcome. Success is false if any entity
// failed; counters still reflect the entities that got through.
type SyncResult struct {
	Success           bool
	Pushed            int
	Pulled            int
	ConflictsResolved int
	Err               *SyncError
}

// SyncStatus is the non-blocking snapshot served to the UI.
type SyncStatus struct {
	LastSyncAt time.Time
	Err        *SyncError
}
