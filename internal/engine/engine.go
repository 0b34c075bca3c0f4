// Package engine runs the sync lifecycle: the initial sync at startup,
// periodic incremental cycles, the realtime subscription, master lease
// renewal and the master-only periodic full refresh.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	gosync "sync"

	"github.com/mlevkov/tasksync/internal/auth"
	"github.com/mlevkov/tasksync/internal/common"
	"github.com/mlevkov/tasksync/internal/logging"
	"github.com/mlevkov/tasksync/internal/realtime"
	syncpkg "github.com/mlevkov/tasksync/internal/sync"
)

// Syncer is the orchestrator surface the engine drives.
type Syncer interface {
	LoadStatus(ctx context.Context) error
	PerformSync(ctx context.Context) syncpkg.SyncResult
	PerformFullSync(ctx context.Context) syncpkg.SyncResult
	ForcePushLocalChanges(ctx context.Context) syncpkg.SyncResult
	Status() syncpkg.SyncStatus
}

// Subscriber is the realtime surface the engine drives.
type Subscriber interface {
	SubscribeAll(ctx context.Context, accountID string)
	UnsubscribeAll()
	SetOnResubscribed(fn func(entity string))
	Retrigger()
	States() map[string]realtime.State
}

// Coordinator is the master-election surface the engine drives.
type Coordinator interface {
	Acquire(ctx context.Context, accountID string) (bool, error)
	Release(ctx context.Context, accountID string) error
}

// Intervals groups the engine's timer cadences.
type Intervals struct {
	Sync        time.Duration
	FullRefresh time.Duration
	LeaseRenew  time.Duration
}

// Status is the engine snapshot served to callers. Fatal means a local
// persistence failure halted automatic sync; only a manual cycle that
// succeeds clears it.
type Status struct {
	Sync          syncpkg.SyncStatus
	IsMaster      bool
	Fatal         bool
	Subscriptions map[string]realtime.State
}

// Engine owns the background goroutines of a running device. Start and
// Stop bracket its lifetime; an engine is not restartable.
type Engine struct {
	syncer      Syncer
	subscriber  Subscriber
	coordinator Coordinator
	accounts    auth.Provider
	intervals   Intervals
	logger      logging.Logger

	isMaster atomic.Bool
	// active gates status-affecting work so goroutines finishing after
	// Stop cannot act on a torn-down engine.
	active atomic.Bool
	// fatal latches after a local persistence failure: the periodic
	// loops stand down because retrying cannot fix the store. A manual
	// cycle that succeeds clears it.
	fatal atomic.Bool

	mu        gosync.Mutex
	started   bool
	stopped   bool
	accountID string
	cancel    context.CancelFunc
	wg        gosync.WaitGroup
	onFatal   func(err *syncpkg.SyncError)
}

func New(syncer Syncer, subscriber Subscriber, coordinator Coordinator, accounts auth.Provider, intervals Intervals, logger logging.Logger) *Engine {
	return &Engine{
		syncer:      syncer,
		subscriber:  subscriber,
		coordinator: coordinator,
		accounts:    accounts,
		intervals:   intervals,
		logger:      logger.With("module", "engine"),
	}
}

// SetOnFatal registers the lifecycle owner's notification hook for
// local persistence failures. Call before Start; fired at most once per
// latch.
func (e *Engine) SetOnFatal(fn func(err *syncpkg.SyncError)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFatal = fn
}

// observe latches a fatal cycle result and notifies the lifecycle
// owner. The periodic loops check the latch and stand down.
func (e *Engine) observe(ctx context.Context, res syncpkg.SyncResult) syncpkg.SyncResult {
	if res.Err != nil && res.Err.Fatal() && e.fatal.CompareAndSwap(false, true) {
		e.logger.Error(ctx, "local store failure, automatic sync halted", "error", res.Err)
		e.mu.Lock()
		fn := e.onFatal
		e.mu.Unlock()
		if fn != nil {
			fn(res.Err)
		}
	}
	return res
}

// Start resolves the account, runs the initial sync cycle, opens the
// realtime subscriptions, contends for the master lease and launches the
// periodic loops. It returns once the engine is running; the loops stop
// when Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started || e.stopped {
		e.mu.Unlock()
		return common.ErrEngineStopped
	}
	e.started = true
	e.mu.Unlock()

	accountID, err := e.accounts.AccountID(ctx)
	if err != nil {
		e.mu.Lock()
		e.started = false
		e.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.accountID = accountID
	e.cancel = cancel
	e.mu.Unlock()
	e.active.Store(true)

	if err := e.syncer.LoadStatus(ctx); err != nil {
		e.logger.Warn(ctx, "could not load sync status", "error", err)
	}

	res := e.observe(ctx, e.syncer.PerformSync(ctx))
	if !res.Success {
		// The periodic loop retries; startup proceeds offline.
		e.logger.Warn(ctx, "initial sync failed", "error", res.Err)
	} else {
		e.logger.Info(ctx, "initial sync complete", "pulled", res.Pulled, "pushed", res.Pushed)
	}

	// A resubscribe after a dropped channel may have missed events; run
	// a catch-up cycle to close the gap.
	e.subscriber.SetOnResubscribed(func(entity string) {
		if !e.active.Load() || e.fatal.Load() {
			return
		}
		e.logger.Info(runCtx, "subscription recovered, running catch-up sync", "entity", entity)
		e.observe(runCtx, e.syncer.PerformSync(runCtx))
	})
	e.subscriber.SubscribeAll(runCtx, accountID)

	e.renewLease(runCtx)

	e.wg.Add(3)
	go e.syncLoop(runCtx)
	go e.leaseLoop(runCtx)
	go e.refreshLoop(runCtx)

	return nil
}

// Stop halts the loops, tears down subscriptions and releases the master
// lease if held. Safe to call once; later calls are no-ops.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	cancel := e.cancel
	accountID := e.accountID
	e.mu.Unlock()

	e.active.Store(false)
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.subscriber.UnsubscribeAll()

	if e.isMaster.Load() {
		if err := e.coordinator.Release(ctx, accountID); err != nil {
			e.logger.Warn(ctx, "could not release master lease", "error", err)
		}
		e.isMaster.Store(false)
	}
	e.logger.Info(ctx, "engine stopped")
}

// SyncNow triggers an on-demand cycle (the UI's manual refresh). A
// manual cycle may run even after a fatal latch; succeeding clears it.
func (e *Engine) SyncNow(ctx context.Context) syncpkg.SyncResult {
	if !e.active.Load() {
		return syncpkg.SyncResult{Err: &syncpkg.SyncError{Code: syncpkg.CodeSync, Message: common.ErrEngineStopped.Error()}}
	}
	res := e.observe(ctx, e.syncer.PerformSync(ctx))
	if res.Success {
		e.fatal.Store(false)
	}
	return res
}

// ForcePush re-pushes local changes without pulling; the manual
// recovery path for suspected divergence.
func (e *Engine) ForcePush(ctx context.Context) syncpkg.SyncResult {
	if !e.active.Load() {
		return syncpkg.SyncResult{Err: &syncpkg.SyncError{Code: syncpkg.CodeSync, Message: common.ErrEngineStopped.Error()}}
	}
	return e.observe(ctx, e.syncer.ForcePushLocalChanges(ctx))
}

// Retrigger restarts errored realtime subscriptions.
func (e *Engine) Retrigger() {
	if e.active.Load() {
		e.subscriber.Retrigger()
	}
}

// IsMaster reports the engine's last observed lease state.
func (e *Engine) IsMaster() bool { return e.isMaster.Load() }

// Status returns a snapshot of sync state, mastership and subscriptions.
func (e *Engine) Status() Status {
	return Status{
		Sync:          e.syncer.Status(),
		IsMaster:      e.isMaster.Load(),
		Fatal:         e.fatal.Load(),
		Subscriptions: e.subscriber.States(),
	}
}

func (e *Engine) syncLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.intervals.Sync)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.fatal.Load() {
				continue
			}
			if res := e.observe(ctx, e.syncer.PerformSync(ctx)); !res.Success {
				e.logger.Warn(ctx, "periodic sync failed", "error", res.Err)
			}
		}
	}
}

func (e *Engine) leaseLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.intervals.LeaseRenew)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.renewLease(ctx)
		}
	}
}

func (e *Engine) renewLease(ctx context.Context) {
	e.mu.Lock()
	accountID := e.accountID
	e.mu.Unlock()

	got, err := e.coordinator.Acquire(ctx, accountID)
	if err != nil {
		e.logger.Warn(ctx, "master lease acquire failed", "error", err)
		return
	}
	was := e.isMaster.Swap(got)
	if got && !was {
		e.logger.Info(ctx, "this device is now master")
	}
	if !got && was {
		e.logger.Info(ctx, "master lease lost")
	}
}

// refreshLoop runs the periodic full reconciliation, gated to the master
// device so exactly one device per account pays for it.
func (e *Engine) refreshLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.intervals.FullRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.isMaster.Load() || e.fatal.Load() {
				continue
			}
			if res := e.observe(ctx, e.syncer.PerformFullSync(ctx)); !res.Success {
				e.logger.Warn(ctx, "full refresh failed", "error", res.Err)
			}
		}
	}
}
