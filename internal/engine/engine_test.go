package engine

import (
	"context"
	"errors"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlevkov/tasksync/internal/common"
	"github.com/mlevkov/tasksync/internal/logging"
	"github.com/mlevkov/tasksync/internal/realtime"
	syncpkg "github.com/mlevkov/tasksync/internal/sync"
)

type fakeSyncer struct {
	mu          gosync.Mutex
	syncs       int
	fullSyncs   int
	forcePushes int
	result      syncpkg.SyncResult
}

func (f *fakeSyncer) LoadStatus(ctx context.Context) error { return nil }

func (f *fakeSyncer) PerformSync(ctx context.Context) syncpkg.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return f.result
}

func (f *fakeSyncer) PerformFullSync(ctx context.Context) syncpkg.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fullSyncs++
	return f.result
}

func (f *fakeSyncer) ForcePushLocalChanges(ctx context.Context) syncpkg.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forcePushes++
	return f.result
}

func (f *fakeSyncer) Status() syncpkg.SyncStatus { return syncpkg.SyncStatus{} }

func (f *fakeSyncer) setResult(r syncpkg.SyncResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = r
}

func (f *fakeSyncer) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncs, f.fullSyncs
}

type fakeSubscriber struct {
	mu             gosync.Mutex
	subscribed     bool
	unsubscribed   bool
	retriggered    int
	onResubscribed func(string)
}

func (f *fakeSubscriber) SubscribeAll(ctx context.Context, accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = true
}

func (f *fakeSubscriber) UnsubscribeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = true
}

func (f *fakeSubscriber) SetOnResubscribed(fn func(string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onResubscribed = fn
}

func (f *fakeSubscriber) Retrigger() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retriggered++
}

func (f *fakeSubscriber) States() map[string]realtime.State {
	return map[string]realtime.State{common.EntityTasks: realtime.StateSubscribed}
}

type fakeCoordinator struct {
	acquire  atomic.Bool
	released atomic.Bool
	err      error
}

func (f *fakeCoordinator) Acquire(ctx context.Context, accountID string) (bool, error) {
	return f.acquire.Load(), f.err
}

func (f *fakeCoordinator) Release(ctx context.Context, accountID string) error {
	f.released.Store(true)
	return nil
}

type fixedAccounts string

func (f fixedAccounts) AccountID(ctx context.Context) (string, error) {
	if f == "" {
		return "", common.ErrNoAccount
	}
	return string(f), nil
}

func testIntervals() Intervals {
	return Intervals{Sync: 10 * time.Millisecond, FullRefresh: 10 * time.Millisecond, LeaseRenew: 10 * time.Millisecond}
}

func TestStart_RunsInitialSyncAndSubscribes(t *testing.T) {
	syncer := &fakeSyncer{result: syncpkg.SyncResult{Success: true}}
	sub := &fakeSubscriber{}
	coord := &fakeCoordinator{}
	e := New(syncer, sub, coord, fixedAccounts("acc1"), testIntervals(), logging.NewNopLogger())

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(context.Background())

	syncs, _ := syncer.counts()
	assert.GreaterOrEqual(t, syncs, 1)
	sub.mu.Lock()
	assert.True(t, sub.subscribed)
	assert.NotNil(t, sub.onResubscribed)
	sub.mu.Unlock()
}

func TestStart_NoAccountFails(t *testing.T) {
	e := New(&fakeSyncer{}, &fakeSubscriber{}, &fakeCoordinator{}, fixedAccounts(""), testIntervals(), logging.NewNopLogger())

	err := e.Start(context.Background())
	assert.ErrorIs(t, err, common.ErrNoAccount)
}

func TestPeriodicSyncRuns(t *testing.T) {
	syncer := &fakeSyncer{result: syncpkg.SyncResult{Success: true}}
	e := New(syncer, &fakeSubscriber{}, &fakeCoordinator{}, fixedAccounts("acc1"), testIntervals(), logging.NewNopLogger())

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(context.Background())

	require.Eventually(t, func() bool {
		syncs, _ := syncer.counts()
		return syncs >= 3
	}, time.Second, time.Millisecond)
}

func TestFullRefresh_MasterOnly(t *testing.T) {
	syncer := &fakeSyncer{result: syncpkg.SyncResult{Success: true}}
	coord := &fakeCoordinator{}
	e := New(syncer, &fakeSubscriber{}, coord, fixedAccounts("acc1"), testIntervals(), logging.NewNopLogger())

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(context.Background())

	// Not master: no full refreshes despite the ticker firing.
	time.Sleep(50 * time.Millisecond)
	_, full := syncer.counts()
	assert.Zero(t, full)
	assert.False(t, e.IsMaster())

	// Lease becomes available; the renewal loop picks it up and full
	// refreshes start.
	coord.acquire.Store(true)
	require.Eventually(t, func() bool {
		_, full := syncer.counts()
		return e.IsMaster() && full >= 1
	}, time.Second, time.Millisecond)
}

func TestStop_ReleasesLeaseAndUnsubscribes(t *testing.T) {
	syncer := &fakeSyncer{result: syncpkg.SyncResult{Success: true}}
	sub := &fakeSubscriber{}
	coord := &fakeCoordinator{}
	coord.acquire.Store(true)
	e := New(syncer, sub, coord, fixedAccounts("acc1"), testIntervals(), logging.NewNopLogger())

	require.NoError(t, e.Start(context.Background()))
	require.True(t, e.IsMaster())

	e.Stop(context.Background())

	assert.True(t, coord.released.Load())
	sub.mu.Lock()
	assert.True(t, sub.unsubscribed)
	sub.mu.Unlock()
	assert.False(t, e.IsMaster())

	// A stopped engine refuses further cycles.
	res := e.SyncNow(context.Background())
	require.NotNil(t, res.Err)
	assert.False(t, res.Success)
}

func TestStart_Twice(t *testing.T) {
	syncer := &fakeSyncer{result: syncpkg.SyncResult{Success: true}}
	e := New(syncer, &fakeSubscriber{}, &fakeCoordinator{}, fixedAccounts("acc1"), testIntervals(), logging.NewNopLogger())

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(context.Background())

	assert.ErrorIs(t, e.Start(context.Background()), common.ErrEngineStopped)
}

func TestResubscribeCallbackRunsCatchUpSync(t *testing.T) {
	syncer := &fakeSyncer{result: syncpkg.SyncResult{Success: true}}
	sub := &fakeSubscriber{}
	e := New(syncer, sub, &fakeCoordinator{}, fixedAccounts("acc1"), testIntervals(), logging.NewNopLogger())

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(context.Background())

	before, _ := syncer.counts()
	sub.mu.Lock()
	cb := sub.onResubscribed
	sub.mu.Unlock()
	cb(common.EntityTasks)

	after, _ := syncer.counts()
	assert.Greater(t, after, before)
}

func TestStatus(t *testing.T) {
	syncer := &fakeSyncer{result: syncpkg.SyncResult{Success: true}}
	e := New(syncer, &fakeSubscriber{}, &fakeCoordinator{}, fixedAccounts("acc1"), testIntervals(), logging.NewNopLogger())

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(context.Background())

	st := e.Status()
	assert.False(t, st.IsMaster)
	assert.Equal(t, realtime.StateSubscribed, st.Subscriptions[common.EntityTasks])
}

func TestFatalSyncErrorHaltsPeriodicLoop(t *testing.T) {
	syncer := &fakeSyncer{result: syncpkg.SyncResult{
		Err: &syncpkg.SyncError{Code: syncpkg.CodeLocalStore, Message: "disk I/O error"},
	}}
	e := New(syncer, &fakeSubscriber{}, &fakeCoordinator{}, fixedAccounts("acc1"), testIntervals(), logging.NewNopLogger())

	var notified atomic.Int32
	e.SetOnFatal(func(err *syncpkg.SyncError) {
		assert.True(t, err.Fatal())
		notified.Add(1)
	})

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(context.Background())

	// The initial cycle latched the failure; the ticker keeps firing but
	// no further automatic cycles run.
	require.Eventually(t, func() bool { return notified.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	syncs, full := syncer.counts()
	assert.Equal(t, 1, syncs)
	assert.Zero(t, full)
	assert.True(t, e.Status().Fatal)
	assert.Equal(t, int32(1), notified.Load())

	// A manual cycle may still run; succeeding clears the latch.
	syncer.setResult(syncpkg.SyncResult{Success: true})
	res := e.SyncNow(context.Background())
	require.True(t, res.Success)
	assert.False(t, e.Status().Fatal)
}

func TestForcePush_RunsOnDemand(t *testing.T) {
	syncer := &fakeSyncer{result: syncpkg.SyncResult{Success: true}}
	e := New(syncer, &fakeSubscriber{}, &fakeCoordinator{}, fixedAccounts("acc1"), testIntervals(), logging.NewNopLogger())

	require.NoError(t, e.Start(context.Background()))

	res := e.ForcePush(context.Background())
	require.True(t, res.Success)
	syncer.mu.Lock()
	assert.Equal(t, 1, syncer.forcePushes)
	syncer.mu.Unlock()

	e.Stop(context.Background())
	res = e.ForcePush(context.Background())
	require.NotNil(t, res.Err)
	assert.False(t, res.Success)
}

func TestStart_InitialSyncFailureIsNotFatal(t *testing.T) {
	syncer := &fakeSyncer{result: syncpkg.SyncResult{Err: &syncpkg.SyncError{Code: syncpkg.CodeNetwork, Message: errors.New("down").Error()}}}
	sub := &fakeSubscriber{}
	e := New(syncer, sub, &fakeCoordinator{}, fixedAccounts("acc1"), testIntervals(), logging.NewNopLogger())

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(context.Background())

	sub.mu.Lock()
	assert.True(t, sub.subscribed)
	sub.mu.Unlock()
}
