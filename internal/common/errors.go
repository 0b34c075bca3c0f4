// Package common defines shared constants and sentinel errors used across
// the tasksync engine. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrInternal    = errors.New("internal error")
	ErrSyncRunning = errors.New("sync already in progress")

	// Auth errors.
	ErrNoAccount    = errors.New("no authenticated account")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Lease errors.
	ErrLeaseHeld = errors.New("lease held by another device")

	// Engine lifecycle errors.
	ErrEngineStopped = errors.New("engine stopped")

	// Local persistence failures are potentially fatal (disk full,
	// corruption); the lifecycle layer surfaces them to the user.
	ErrLocalStore = errors.New("local store failure")
)
