package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/mlevkov/tasksync/internal/auth"
	"github.com/mlevkov/tasksync/internal/common"
	"github.com/mlevkov/tasksync/internal/dbx"
	"github.com/mlevkov/tasksync/internal/local"
	"github.com/mlevkov/tasksync/internal/logging"
	"github.com/mlevkov/tasksync/internal/models"
	"github.com/mlevkov/tasksync/internal/remote"
)

// Orchestrator drives full synchronization cycles: pull remote changes
// after the watermark, merge them with local changes through the resolver,
// persist the union in one local transaction, push the local set via
// idempotent upserts, and advance the watermark only when every entity's
// merge and push succeeded.
type Orchestrator struct {
	stores   local.Stores
	remote   remote.Store
	accounts auth.Provider
	deviceID string
	logger   logging.Logger

	// now is an injectable clock for tests.
	now func() time.Time

	inFlight atomic.Bool

	mu         gosync.Mutex
	lastSyncAt time.Time
	lastErr    *SyncError
}

func NewOrchestrator(stores local.Stores, rs remote.Store, accounts auth.Provider, deviceID string, logger logging.Logger) *Orchestrator {
	return &Orchestrator{
		stores:   stores,
		remote:   rs,
		accounts: accounts,
		deviceID: deviceID,
		logger:   logger.With("module", "sync_orchestrator"),
		now:      models.Now,
	}
}

// LoadStatus primes the status snapshot from the stored watermark. Called
// once at engine startup.
func (o *Orchestrator) LoadStatus(ctx context.Context) error {
	w, err := o.stores.Meta(nil).Watermark(ctx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.lastSyncAt = w.LastSyncAt
	o.mu.Unlock()
	return nil
}

// Status returns the current sync snapshot. It never touches the network
// and never blocks on a running cycle.
func (o *Orchestrator) Status() SyncStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return SyncStatus{LastSyncAt: o.lastSyncAt, Err: o.lastErr}
}

// PerformSync runs one incremental cycle from the stored watermark.
func (o *Orchestrator) PerformSync(ctx context.Context) SyncResult {
	return o.run(ctx, cycleOptions{})
}

// PerformFullSync ignores the watermark and reconciles the full record
// sets. The engine schedules this periodically on the master device only.
func (o *Orchestrator) PerformFullSync(ctx context.Context) SyncResult {
	return o.run(ctx, cycleOptions{ignoreWatermark: true})
}

// ForcePushLocalChanges skips the pull phase and re-pushes everything
// changed locally since the watermark; a manual recovery path for
// suspected divergence. The watermark is not advanced.
func (o *Orchestrator) ForcePushLocalChanges(ctx context.Context) SyncResult {
	return o.run(ctx, cycleOptions{skipPull: true})
}

type cycleOptions struct {
	ignoreWatermark bool
	skipPull        bool
}

func (o *Orchestrator) run(ctx context.Context, opts cycleOptions) SyncResult {
	// One cycle at a time per device; concurrent callers get a busy
	// result instead of double-pushing.
	if !o.inFlight.CompareAndSwap(false, true) {
		return SyncResult{Err: newSyncError(CodeSync, common.ErrSyncRunning.Error())}
	}
	defer o.inFlight.Store(false)

	accountID, err := o.accounts.AccountID(ctx)
	if err != nil {
		return o.finish(SyncResult{Err: newSyncError(CodeAuth, err.Error())}, opts, time.Time{})
	}

	watermark, err := o.stores.Meta(nil).Watermark(ctx)
	if err != nil {
		return o.finish(SyncResult{Err: newSyncError(CodeLocalStore, fmt.Sprintf("read watermark: %v", err))}, opts, time.Time{})
	}
	since := watermark.LastSyncAt
	if opts.ignoreWatermark {
		since = time.Time{}
	}

	cycleStart := o.now()
	cycle := cycleState{accountID: accountID, since: since, opts: opts, now: cycleStart}

	result := SyncResult{Success: true}
	details := map[string]string{}

	// Entities sync independently; one entity's failure must not block
	// the others.
	type outcome struct {
		name string
		out  entityOutcome
		err  error
	}
	var outcomes []outcome
	tasksOut, tasksErr := syncEntity(ctx, o, cycle, o.taskPlan())
	outcomes = append(outcomes, outcome{common.EntityTasks, tasksOut, tasksErr})
	selOut, selErr := syncEntity(ctx, o, cycle, o.selectionPlan())
	outcomes = append(outcomes, outcome{common.EntityDailySelections, selOut, selErr})
	logsOut, logsErr := syncEntity(ctx, o, cycle, o.logPlan())
	outcomes = append(outcomes, outcome{common.EntityTaskLogs, logsOut, logsErr})
	for _, e := range outcomes {
		result.Pulled += e.out.pulled
		result.Pushed += e.out.pushed
		result.ConflictsResolved += e.out.conflicts
		if e.err != nil {
			o.logger.Error(ctx, "entity sync failed", "entity", e.name, "error", e.err)
			result.Success = false
			details[e.name] = e.err.Error()
		}
	}

	if !result.Success {
		code := CodeSync
		for _, e := range outcomes {
			if errors.Is(e.err, errNetwork) {
				code = CodeNetwork
				break
			}
		}
		// Local persistence failures outrank everything else: a retry
		// cannot fix a full or corrupted disk, so the caller must see
		// the fatal class even when other entities failed on network.
		for _, e := range outcomes {
			if errors.Is(e.err, common.ErrLocalStore) {
				code = CodeLocalStore
				break
			}
		}
		result.Err = &SyncError{Code: code, Message: "sync cycle failed", Details: details}
	}

	return o.finish(result, opts, cycleStart)
}

// finish records status and, on a fully successful pull cycle, advances
// the watermark. A failed merge or push leaves the watermark untouched so
// the next cycle re-delivers the same changes (at-least-once; the remote
// upsert absorbs the duplicates).
func (o *Orchestrator) finish(result SyncResult, opts cycleOptions, cycleStart time.Time) SyncResult {
	if result.Success && !opts.skipPull {
		if err := o.stores.Meta(nil).SetWatermark(context.Background(), models.Watermark{LastSyncAt: cycleStart}); err != nil {
			result.Success = false
			result.Err = newSyncError(CodeLocalStore, fmt.Sprintf("advance watermark: %v", err))
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if result.Success {
		if !opts.skipPull {
			o.lastSyncAt = cycleStart
		}
		o.lastErr = nil
	} else {
		o.lastErr = result.Err
	}
	return result
}

type cycleState struct {
	accountID string
	since     time.Time
	opts      cycleOptions
	now       time.Time
}

type entityOutcome struct {
	pulled    int
	pushed    int
	conflicts int
}

// errNetwork marks remote-store failures so the cycle can classify them.
var errNetwork = errors.New("remote store unavailable")

// entityPlan binds one entity type's pull, persist and push operations.
// collapse, when set, deduplicates the merged set by natural key and
// returns extra records (tombstoned losers) that must also be pushed.
type entityPlan[T models.Syncable] struct {
	pullRemote func(ctx context.Context, accountID string, since time.Time) ([]T, error)
	pullLocal  func(ctx context.Context, accountID string, since time.Time) ([]T, error)
	persist    func(ctx context.Context, tx dbx.DBTX, records []T) error
	push       func(ctx context.Context, records []T) error
	collapse   func(merged []T, now time.Time) (kept []T, losers []T)
}

// syncEntity runs one entity through a cycle: pull both sides, resolve the
// id intersection, persist the union transactionally, push the local set.
func syncEntity[T models.Syncable](ctx context.Context, o *Orchestrator, cycle cycleState, plan entityPlan[T]) (entityOutcome, error) {
	var out entityOutcome

	var remoteRecords []T
	if !cycle.opts.skipPull {
		var err error
		remoteRecords, err = plan.pullRemote(ctx, cycle.accountID, cycle.since)
		if err != nil {
			return out, fmt.Errorf("%w: pull: %v", errNetwork, err)
		}
	}

	localRecords, err := plan.pullLocal(ctx, cycle.accountID, cycle.since)
	if err != nil {
		return out, fmt.Errorf("%w: read local changes: %v", common.ErrLocalStore, err)
	}

	pushSet := localRecords

	if !cycle.opts.skipPull {
		out.pulled = len(remoteRecords)

		localByID := make(map[string]T, len(localRecords))
		for _, l := range localRecords {
			localByID[l.Meta().ID] = l
		}

		// remoteWon tracks conflicts the remote side took, so the stale
		// local version is withheld from the push set instead of
		// overwriting the newer remote row.
		remoteWon := make(map[string]bool)

		merged := make([]T, 0, len(remoteRecords)+len(localRecords))
		for _, r := range remoteRecords {
			if l, ok := localByID[r.Meta().ID]; ok {
				winner := Resolve(l, r)
				merged = append(merged, winner)
				out.conflicts++
				if winner.Meta() == r.Meta() {
					remoteWon[r.Meta().ID] = true
				}
				delete(localByID, r.Meta().ID)
			} else {
				merged = append(merged, r)
			}
		}
		for _, l := range localRecords {
			if _, ok := localByID[l.Meta().ID]; ok {
				merged = append(merged, l)
			}
		}

		pushSet = pushSet[:0:0]
		for _, l := range localRecords {
			if !remoteWon[l.Meta().ID] {
				pushSet = append(pushSet, l)
			}
		}

		if plan.collapse != nil {
			kept, losers := plan.collapse(merged, cycle.now)
			merged = append(kept, losers...)
			pushSet = append(pushSet, losers...)
		}

		err = o.stores.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			return plan.persist(ctx, tx, merged)
		})
		if err != nil {
			return out, fmt.Errorf("%w: persist merge: %v", common.ErrLocalStore, err)
		}
	}

	if err := plan.push(ctx, pushSet); err != nil {
		return out, fmt.Errorf("%w: push: %v", errNetwork, err)
	}
	out.pushed = len(pushSet)

	return out, nil
}

func (o *Orchestrator) taskPlan() entityPlan[*models.Task] {
	return entityPlan[*models.Task]{
		pullRemote: o.remote.PullTasks,
		pullLocal: func(ctx context.Context, accountID string, since time.Time) ([]*models.Task, error) {
			return o.stores.Tasks(nil).ChangedSince(ctx, accountID, since)
		},
		persist: func(ctx context.Context, tx dbx.DBTX, records []*models.Task) error {
			repo := o.stores.Tasks(tx)
			for _, t := range records {
				if err := repo.Upsert(ctx, t); err != nil {
					return err
				}
			}
			return nil
		},
		push: o.remote.PushTasks,
	}
}

func (o *Orchestrator) selectionPlan() entityPlan[*models.DailySelection] {
	return entityPlan[*models.DailySelection]{
		pullRemote: o.remote.PullSelections,
		pullLocal: func(ctx context.Context, accountID string, since time.Time) ([]*models.DailySelection, error) {
			return o.stores.Selections(nil).ChangedSince(ctx, accountID, since)
		},
		persist: func(ctx context.Context, tx dbx.DBTX, records []*models.DailySelection) error {
			repo := o.stores.Selections(tx)
			for _, s := range records {
				if err := repo.Upsert(ctx, s); err != nil {
					return err
				}
			}
			return nil
		},
		push:     o.remote.PushSelections,
		collapse: collapseSelections,
	}
}

func (o *Orchestrator) logPlan() entityPlan[*models.TaskLog] {
	return entityPlan[*models.TaskLog]{
		pullRemote: o.remote.PullLogs,
		pullLocal: func(ctx context.Context, accountID string, since time.Time) ([]*models.TaskLog, error) {
			return o.stores.Logs(nil).ChangedSince(ctx, accountID, since)
		},
		persist: func(ctx context.Context, tx dbx.DBTX, records []*models.TaskLog) error {
			// Append-only: merge is a set union by id.
			repo := o.stores.Logs(tx)
			for _, l := range records {
				if err := repo.Insert(ctx, l); err != nil {
					return err
				}
			}
			return nil
		},
		push: o.remote.PushLogs,
	}
}

// collapseSelections deduplicates daily selections by their (day, taskID)
// natural key: the same logical "task picked for day X" can be created
// under different ids on two offline devices. The row with the newer
// UpdatedAt survives (ties break to the lexicographically smaller, i.e.
// earlier-created, id); losers are tombstoned rather than dropped so the
// collapse itself synchronizes to every device.
func collapseSelections(merged []*models.DailySelection, now time.Time) (kept, losers []*models.DailySelection) {
	winners := make(map[string]*models.DailySelection, len(merged))
	for _, s := range merged {
		if s.Deleted() {
			continue
		}
		key := s.NaturalKey()
		w, ok := winners[key]
		if !ok {
			winners[key] = s
			continue
		}
		if s.UpdatedAt.After(w.UpdatedAt) || (s.UpdatedAt.Equal(w.UpdatedAt) && s.ID < w.ID) {
			winners[key] = s
		}
	}

	kept = make([]*models.DailySelection, 0, len(merged))
	for _, s := range merged {
		if s.Deleted() || winners[s.NaturalKey()] == s {
			kept = append(kept, s)
			continue
		}
		loser := *s
		at := now
		loser.DeletedAt = &at
		loser.UpdatedAt = at
		loser.SyncVersion++
		losers = append(losers, &loser)
	}
	return kept, losers
}
