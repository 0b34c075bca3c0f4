// Package master elects at most one device per account as the master,
// responsible for the scheduled maintenance work (periodic full refresh)
// that must not run on every device at once. Election is a lease in the
// remote store; correctness rests entirely on the store's conditional
// writes, never on client-side locking.
package master

import (
	"context"
	"errors"
	"time"

	"github.com/mlevkov/tasksync/internal/common"
	"github.com/mlevkov/tasksync/internal/logging"
	"github.com/mlevkov/tasksync/internal/models"
	"github.com/mlevkov/tasksync/internal/remote"
)

const DefaultLeaseDuration = 30 * time.Minute

// Coordinator acquires, renews and releases the master lease for one
// device. Safe for concurrent use; every method is a remote round trip.
type Coordinator struct {
	leases   remote.LeaseStore
	deviceID string
	duration time.Duration
	logger   logging.Logger

	now func() time.Time
}

func NewCoordinator(leases remote.LeaseStore, deviceID string, duration time.Duration, logger logging.Logger) *Coordinator {
	if duration <= 0 {
		duration = DefaultLeaseDuration
	}
	return &Coordinator{
		leases:   leases,
		deviceID: deviceID,
		duration: duration,
		logger:   logger.With("module", "master_coordinator"),
		now:      models.Now,
	}
}

// Acquire attempts to become (or stay) master for accountID. It returns
// true iff this device holds a live lease when it returns. Losing a race
// to another device is a normal false, not an error.
//
// Acquire doubles as renewal: the engine calls it on a timer well inside
// the lease duration, so a healthy master extends its lease before anyone
// can take it over.
func (c *Coordinator) Acquire(ctx context.Context, accountID string) (bool, error) {
	now := c.now()
	expiresAt := now.Add(c.duration)

	lease, err := c.leases.GetLease(ctx, accountID)
	if err != nil {
		return false, err
	}

	if lease == nil {
		err := c.leases.InsertLease(ctx, models.Lease{
			AccountID: accountID,
			DeviceID:  c.deviceID,
			ExpiresAt: expiresAt,
		})
		if errors.Is(err, common.ErrLeaseHeld) {
			// Another device won the insert race.
			return false, nil
		}
		if err != nil {
			return false, err
		}
		c.logger.Info(ctx, "master lease acquired", "account_id", accountID)
		return true, nil
	}

	if lease.DeviceID == c.deviceID && !lease.Expired(now) {
		ok, err := c.leases.ExtendLease(ctx, accountID, c.deviceID, expiresAt)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		// The lease lapsed or changed hands between the read and the
		// extend; fall through to the expired-claim path.
	}

	if lease.Expired(now) || lease.DeviceID == c.deviceID {
		ok, err := c.leases.ClaimExpiredLease(ctx, accountID, c.deviceID, expiresAt)
		if err != nil {
			return false, err
		}
		if ok {
			c.logger.Info(ctx, "expired master lease taken over", "account_id", accountID, "previous_device", lease.DeviceID)
		}
		return ok, nil
	}

	// Another device holds a live lease.
	return false, nil
}

// IsMaster reports whether this device currently holds a live lease. It
// is read-only and never mutates lease state.
func (c *Coordinator) IsMaster(ctx context.Context, accountID string) (bool, error) {
	lease, err := c.leases.GetLease(ctx, accountID)
	if err != nil {
		return false, err
	}
	if lease == nil {
		return false, nil
	}
	return lease.DeviceID == c.deviceID && !lease.Expired(c.now()), nil
}

// Release gives up the lease if this device owns it. Releasing a lease
// held by another device is a no-op.
func (c *Coordinator) Release(ctx context.Context, accountID string) error {
	return c.leases.DeleteLease(ctx, accountID, c.deviceID)
}
