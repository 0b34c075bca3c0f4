package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlevkov/tasksync/internal/common"
	"github.com/mlevkov/tasksync/internal/dbx"
	"github.com/mlevkov/tasksync/internal/local"
	"github.com/mlevkov/tasksync/internal/logging"
	"github.com/mlevkov/tasksync/internal/models"
)

// fakeRemote is an in-memory remote.Store with per-method error injection.
type fakeRemote struct {
	mu         sync.Mutex
	tasks      map[string]*models.Task
	selections map[string]*models.DailySelection
	logs       map[string]*models.TaskLog

	pullTasksErr      error
	pushTasksErr      error
	pushSelectionsErr error
	pushedTasks       int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		tasks:      map[string]*models.Task{},
		selections: map[string]*models.DailySelection{},
		logs:       map[string]*models.TaskLog{},
	}
}

func (f *fakeRemote) PullTasks(ctx context.Context, accountID string, since time.Time) ([]*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullTasksErr != nil {
		return nil, f.pullTasksErr
	}
	var out []*models.Task
	for _, t := range f.tasks {
		if t.AccountID == accountID && t.UpdatedAt.After(since) {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeRemote) PushTasks(ctx context.Context, records []*models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushTasksErr != nil {
		return f.pushTasksErr
	}
	for _, t := range records {
		c := *t
		f.tasks[t.ID] = &c
		f.pushedTasks++
	}
	return nil
}

func (f *fakeRemote) PullSelections(ctx context.Context, accountID string, since time.Time) ([]*models.DailySelection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.DailySelection
	for _, s := range f.selections {
		if s.AccountID == accountID && s.UpdatedAt.After(since) {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeRemote) PushSelections(ctx context.Context, records []*models.DailySelection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushSelectionsErr != nil {
		return f.pushSelectionsErr
	}
	for _, s := range records {
		c := *s
		f.selections[s.ID] = &c
	}
	return nil
}

func (f *fakeRemote) PullLogs(ctx context.Context, accountID string, since time.Time) ([]*models.TaskLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.TaskLog
	for _, l := range f.logs {
		if l.AccountID == accountID && l.UpdatedAt.After(since) {
			c := *l
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeRemote) PushLogs(ctx context.Context, records []*models.TaskLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range records {
		if _, ok := f.logs[l.ID]; !ok {
			c := *l
			f.logs[l.ID] = &c
		}
	}
	return nil
}

// brokenTxStores fails every transaction, simulating a full or
// corrupted disk at merge-persist time.
type brokenTxStores struct {
	local.Stores
	err error
}

func (b *brokenTxStores) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return b.err
}

type fakeAccounts struct {
	id  string
	err error
}

func (f *fakeAccounts) AccountID(ctx context.Context) (string, error) {
	return f.id, f.err
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *local.Store, *fakeRemote) {
	t.Helper()
	store, err := local.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rs := newFakeRemote()
	o := NewOrchestrator(store, rs, &fakeAccounts{id: "acc1"}, "dev1", logging.NewNopLogger())
	return o, store, rs
}

func TestPerformSync_PushesLocalChanges(t *testing.T) {
	o, store, rs := newTestOrchestrator(t)
	ctx := context.Background()

	task := models.NewTask("acc1", "dev1", "buy milk")
	require.NoError(t, store.Tasks(nil).Upsert(ctx, task))

	res := o.PerformSync(ctx)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Pushed)
	assert.Contains(t, rs.tasks, task.ID)

	// The watermark advanced, so an unchanged repeat cycle pushes nothing.
	res = o.PerformSync(ctx)
	require.True(t, res.Success)
	assert.Equal(t, 0, res.Pushed)
	assert.Equal(t, 0, res.Pulled)
}

func TestPerformSync_PullsRemoteChanges(t *testing.T) {
	o, store, rs := newTestOrchestrator(t)
	ctx := context.Background()

	remoteTask := models.NewTask("acc1", "dev2", "remote task")
	rs.tasks[remoteTask.ID] = remoteTask

	res := o.PerformSync(ctx)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Pulled)

	got, err := store.Tasks(nil).GetByID(ctx, remoteTask.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote task", got.Title)
}

func TestPerformSync_ConflictNewerRemoteWins(t *testing.T) {
	o, store, rs := newTestOrchestrator(t)
	ctx := context.Background()

	base := models.Now().Add(-time.Hour)

	localTask := models.NewTask("acc1", "dev1", "local title")
	localTask.UpdatedAt = base
	require.NoError(t, store.Tasks(nil).Upsert(ctx, localTask))

	remoteTask := *localTask
	remoteTask.Title = "remote title"
	remoteTask.Touch("dev2", base.Add(time.Minute))
	rs.tasks[remoteTask.ID] = &remoteTask

	res := o.PerformSync(ctx)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.ConflictsResolved)

	got, err := store.Tasks(nil).GetByID(ctx, localTask.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote title", got.Title)

	// The stale local version was withheld from the push; the remote
	// still holds its newer title.
	assert.Equal(t, "remote title", rs.tasks[localTask.ID].Title)
}

func TestPerformSync_ConflictNewerLocalWins(t *testing.T) {
	o, store, rs := newTestOrchestrator(t)
	ctx := context.Background()

	base := models.Now().Add(-time.Hour)

	remoteTask := models.NewTask("acc1", "dev2", "remote title")
	remoteTask.UpdatedAt = base
	rs.tasks[remoteTask.ID] = remoteTask

	localTask := *remoteTask
	localTask.Title = "local title"
	localTask.Touch("dev1", base.Add(time.Minute))
	require.NoError(t, store.Tasks(nil).Upsert(ctx, &localTask))

	res := o.PerformSync(ctx)
	require.True(t, res.Success)

	got, err := store.Tasks(nil).GetByID(ctx, localTask.ID)
	require.NoError(t, err)
	assert.Equal(t, "local title", got.Title)
	assert.Equal(t, "local title", rs.tasks[localTask.ID].Title)
}

func TestPerformSync_WatermarkHeldOnPushFailure(t *testing.T) {
	o, store, rs := newTestOrchestrator(t)
	ctx := context.Background()

	task := models.NewTask("acc1", "dev1", "buy milk")
	require.NoError(t, store.Tasks(nil).Upsert(ctx, task))

	rs.pushTasksErr = errors.New("connection refused")
	res := o.PerformSync(ctx)
	require.False(t, res.Success)
	require.NotNil(t, res.Err)
	assert.Equal(t, CodeNetwork, res.Err.Code)
	assert.Contains(t, res.Err.Details, common.EntityTasks)

	w, err := store.Meta(nil).Watermark(ctx)
	require.NoError(t, err)
	assert.True(t, w.Zero())

	// Next cycle re-delivers the same change and succeeds.
	rs.pushTasksErr = nil
	res = o.PerformSync(ctx)
	require.True(t, res.Success)
	assert.Contains(t, rs.tasks, task.ID)
}

func TestPerformSync_EntityFailureIsolated(t *testing.T) {
	o, store, rs := newTestOrchestrator(t)
	ctx := context.Background()

	task := models.NewTask("acc1", "dev1", "buy milk")
	require.NoError(t, store.Tasks(nil).Upsert(ctx, task))
	sel := models.NewDailySelection("acc1", "dev1", "2026-03-01", task.ID)
	require.NoError(t, store.Selections(nil).Upsert(ctx, sel))

	rs.pushSelectionsErr = errors.New("connection refused")
	res := o.PerformSync(ctx)
	require.False(t, res.Success)

	// Tasks went through even though selections failed.
	assert.Contains(t, rs.tasks, task.ID)
	assert.NotContains(t, rs.selections, sel.ID)
	assert.Contains(t, res.Err.Details, common.EntityDailySelections)
	assert.NotContains(t, res.Err.Details, common.EntityTasks)
}

func TestPerformSync_NoAccountShortCircuits(t *testing.T) {
	store, err := local.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rs := newFakeRemote()
	rs.pullTasksErr = errors.New("must not be called")
	o := NewOrchestrator(store, rs, &fakeAccounts{err: common.ErrNoAccount}, "dev1", logging.NewNopLogger())

	res := o.PerformSync(context.Background())
	require.False(t, res.Success)
	require.NotNil(t, res.Err)
	assert.Equal(t, CodeAuth, res.Err.Code)
	assert.Equal(t, 0, res.Pulled)
}

func TestPerformSync_BusyGuard(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	o.inFlight.Store(true)
	res := o.PerformSync(context.Background())
	require.False(t, res.Success)
	require.NotNil(t, res.Err)
	assert.Contains(t, res.Err.Message, common.ErrSyncRunning.Error())
}

func TestPerformSync_CollapsesDuplicateSelections(t *testing.T) {
	o, store, rs := newTestOrchestrator(t)
	ctx := context.Background()

	base := models.Now().Add(-time.Hour)

	// Two devices picked the same task for the same day under different
	// ids while offline.
	localSel := models.NewDailySelection("acc1", "dev1", "2026-03-01", "task-1")
	localSel.UpdatedAt = base
	require.NoError(t, store.Selections(nil).Upsert(ctx, localSel))

	remoteSel := models.NewDailySelection("acc1", "dev2", "2026-03-01", "task-1")
	remoteSel.UpdatedAt = base.Add(time.Minute)
	rs.selections[remoteSel.ID] = remoteSel

	res := o.PerformSync(ctx)
	require.True(t, res.Success)

	// The newer selection survives; the older one is tombstoned locally
	// and the tombstone is pushed so other devices converge too.
	active, err := store.Selections(nil).ListForDay(ctx, "acc1", "2026-03-01")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, remoteSel.ID, active[0].ID)

	pushed, ok := rs.selections[localSel.ID]
	require.True(t, ok)
	assert.True(t, pushed.Deleted())
}

func TestPerformSync_SelectionCollapseTieBreaksToSmallerID(t *testing.T) {
	at := models.Now().Add(-time.Hour)

	a := models.NewDailySelection("acc1", "dev1", "2026-03-01", "task-1")
	a.ID = "01890000-0000-7000-8000-00000000000a"
	a.UpdatedAt = at
	b := models.NewDailySelection("acc1", "dev2", "2026-03-01", "task-1")
	b.ID = "01890000-0000-7000-8000-00000000000b"
	b.UpdatedAt = at

	kept, losers := collapseSelections([]*models.DailySelection{b, a}, models.Now())
	require.Len(t, kept, 1)
	require.Len(t, losers, 1)
	assert.Equal(t, a.ID, kept[0].ID)
	assert.Equal(t, b.ID, losers[0].ID)
	assert.True(t, losers[0].Deleted())
}

func TestPerformSync_TaskLogsSetUnion(t *testing.T) {
	o, store, rs := newTestOrchestrator(t)
	ctx := context.Background()

	localLog := models.NewTaskLog("acc1", "dev1", "task-1", "completed", "")
	require.NoError(t, store.Logs(nil).Insert(ctx, localLog))
	remoteLog := models.NewTaskLog("acc1", "dev2", "task-1", "reopened", "")
	rs.logs[remoteLog.ID] = remoteLog

	res := o.PerformSync(ctx)
	require.True(t, res.Success)

	both, err := store.Logs(nil).ListForTask(ctx, "acc1", "task-1")
	require.NoError(t, err)
	assert.Len(t, both, 2)
	assert.Contains(t, rs.logs, localLog.ID)
	assert.Contains(t, rs.logs, remoteLog.ID)
}

func TestPerformSync_PersistFailureIsFatal(t *testing.T) {
	store, err := local.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	rs := newFakeRemote()
	remoteTask := models.NewTask("acc1", "dev2", "remote task")
	rs.tasks[remoteTask.ID] = remoteTask
	// Tasks also fail on network; the local-store class must still win
	// the classification.
	rs.pullTasksErr = errors.New("connection refused")

	broken := &brokenTxStores{Stores: store, err: errors.New("disk I/O error")}
	o := NewOrchestrator(broken, rs, &fakeAccounts{id: "acc1"}, "dev1", logging.NewNopLogger())

	res := o.PerformSync(ctx)
	require.False(t, res.Success)
	require.NotNil(t, res.Err)
	assert.Equal(t, CodeLocalStore, res.Err.Code)
	assert.True(t, res.Err.Fatal())
	assert.Contains(t, res.Err.Details, common.EntityDailySelections)

	w, err := store.Meta(nil).Watermark(ctx)
	require.NoError(t, err)
	assert.True(t, w.Zero())
}

func TestForcePushLocalChanges_SkipsPullAndWatermark(t *testing.T) {
	o, store, rs := newTestOrchestrator(t)
	ctx := context.Background()

	task := models.NewTask("acc1", "dev1", "buy milk")
	require.NoError(t, store.Tasks(nil).Upsert(ctx, task))

	remoteTask := models.NewTask("acc1", "dev2", "remote task")
	rs.tasks[remoteTask.ID] = remoteTask

	res := o.ForcePushLocalChanges(ctx)
	require.True(t, res.Success)
	assert.Equal(t, 0, res.Pulled)
	assert.Contains(t, rs.tasks, task.ID)

	// The remote task was not pulled and the watermark did not move.
	_, err := store.Tasks(nil).GetByID(ctx, remoteTask.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	w, err := store.Meta(nil).Watermark(ctx)
	require.NoError(t, err)
	assert.True(t, w.Zero())
}

func TestForcePushLocalChanges_RepushIsIdempotent(t *testing.T) {
	o, store, rs := newTestOrchestrator(t)
	ctx := context.Background()

	task := models.NewTask("acc1", "dev1", "buy milk")
	require.NoError(t, store.Tasks(nil).Upsert(ctx, task))

	res := o.ForcePushLocalChanges(ctx)
	require.True(t, res.Success)
	require.Equal(t, 1, res.Pushed)
	rs.mu.Lock()
	first := *rs.tasks[task.ID]
	rs.mu.Unlock()

	// The watermark did not move, so the unchanged record goes out
	// again; the stored remote row must be identical, UpdatedAt and
	// SyncVersion included.
	res = o.ForcePushLocalChanges(ctx)
	require.True(t, res.Success)
	require.Equal(t, 1, res.Pushed)
	rs.mu.Lock()
	second := *rs.tasks[task.ID]
	rs.mu.Unlock()

	assert.Equal(t, first, second)
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
}

func TestPerformFullSync_IgnoresWatermark(t *testing.T) {
	o, store, rs := newTestOrchestrator(t)
	ctx := context.Background()

	// First cycle advances the watermark past the remote task's stamp.
	res := o.PerformSync(ctx)
	require.True(t, res.Success)

	old := models.NewTask("acc1", "dev2", "predates watermark")
	old.UpdatedAt = models.Now().Add(-24 * time.Hour)
	rs.tasks[old.ID] = old

	res = o.PerformSync(ctx)
	require.True(t, res.Success)
	assert.Equal(t, 0, res.Pulled)

	res = o.PerformFullSync(ctx)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Pulled)

	got, err := store.Tasks(nil).GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, "predates watermark", got.Title)
}

func TestStatus_ReflectsLastCycle(t *testing.T) {
	o, _, rs := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, o.LoadStatus(ctx))
	assert.True(t, o.Status().LastSyncAt.IsZero())

	rs.pullTasksErr = errors.New("connection refused")
	res := o.PerformSync(ctx)
	require.False(t, res.Success)
	require.NotNil(t, o.Status().Err)

	rs.pullTasksErr = nil
	res = o.PerformSync(ctx)
	require.True(t, res.Success)
	st := o.Status()
	assert.Nil(t, st.Err)
	assert.False(t, st.LastSyncAt.IsZero())
}
