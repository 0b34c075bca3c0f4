// Package sync implements the bidirectional synchronization core: the
// conflict resolver and the orchestrator that drives pull/merge/push
// cycles against the remote store.
package sync

import "github.com/mlevkov/tasksync/internal/models"

// Resolve picks the winner between two versions of the same logical
// record: last write wins by UpdatedAt, and on an exact tie the local
// version wins. Favoring the comparing device on ties keeps repeated
// resolutions stable and avoids oscillation between devices.
//
// The function is pure and total; callers persist the winner and count
// conflicts themselves. The policy is deliberately lossy: no field-level
// merge, and a newer edit beats an older tombstone, which can resurrect a
// soft-deleted record. That is accepted product behavior, not a defect.
func Resolve[T models.Syncable](local, remote T) T {
	if remote.Meta().UpdatedAt.After(local.Meta().UpdatedAt) {
		return remote
	}
	return local
}
