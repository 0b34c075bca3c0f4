// Package realtime applies the remote change stream to the local store.
// The subscriber holds one change channel per entity, decodes row images,
// suppresses echoes of this device's own writes and drops stale images
// instead of overwriting newer local state.
package realtime

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/mlevkov/tasksync/internal/common"
	"github.com/mlevkov/tasksync/internal/local"
	"github.com/mlevkov/tasksync/internal/logging"
	"github.com/mlevkov/tasksync/internal/models"
	"github.com/mlevkov/tasksync/internal/remote"
)

// State is one channel's lifecycle position.
type State string

const (
	StateUnsubscribed State = "unsubscribed"
	StateSubscribing  State = "subscribing"
	StateSubscribed   State = "subscribed"
	StateReconnecting State = "reconnecting"
	// StateError and StateTimedOut mean reconnect attempts are
	// exhausted; only Retrigger (or a fresh SubscribeAll) leaves them.
	StateError    State = "error"
	StateTimedOut State = "timed_out"
	StateClosed   State = "closed"
)

const (
	defaultReconnectDelay = 2 * time.Second
	defaultMaxReconnects  = 5
)

// Subscriber manages the per-entity change channels for one account.
type Subscriber struct {
	listener remote.Listener
	stores   local.Stores
	deviceID string
	logger   logging.Logger

	reconnectDelay time.Duration
	maxReconnects  int

	// today gates selection events to the current day; injectable so
	// tests can pin the date.
	today func() string
	now   func() time.Time

	// onChange fires after an event has been applied locally.
	onChange func(entity string)
	// onResubscribed fires when a dropped channel comes back; events
	// published during the gap were lost, so the engine runs a catch-up
	// sync cycle on it.
	onResubscribed func(entity string)

	mu        gosync.Mutex
	accountID string
	ctx       context.Context
	cancel    context.CancelFunc
	states    map[string]State
	running   map[string]bool
	cancels   map[string]context.CancelFunc
	wg        gosync.WaitGroup
}

func NewSubscriber(listener remote.Listener, stores local.Stores, deviceID string, logger logging.Logger) *Subscriber {
	return &Subscriber{
		listener:       listener,
		stores:         stores,
		deviceID:       deviceID,
		logger:         logger.With("module", "realtime_subscriber"),
		reconnectDelay: defaultReconnectDelay,
		maxReconnects:  defaultMaxReconnects,
		today:          func() string { return models.Now().Format("2006-01-02") },
		now:            models.Now,
		states:         map[string]State{},
		running:        map[string]bool{},
		cancels:        map[string]context.CancelFunc{},
	}
}

// SetReconnectPolicy overrides the linear backoff parameters.
func (s *Subscriber) SetReconnectPolicy(delay time.Duration, maxAttempts int) {
	s.reconnectDelay = delay
	s.maxReconnects = maxAttempts
}

// SetOnChange registers the applied-event callback.
func (s *Subscriber) SetOnChange(fn func(entity string)) { s.onChange = fn }

// SetOnResubscribed registers the gap-recovery callback.
func (s *Subscriber) SetOnResubscribed(fn func(entity string)) { s.onResubscribed = fn }

// SubscribeAll opens one channel per entity for accountID. Channels run
// until UnsubscribeAll, ctx cancellation, or reconnect exhaustion.
func (s *Subscriber) SubscribeAll(ctx context.Context, accountID string) {
	// Tear down any previous generation first so channel goroutines are
	// fully stopped before their entities restart.
	s.UnsubscribeAll()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.accountID = accountID

	for _, entity := range common.Entities {
		s.startChannelLocked(entity)
	}
}

// Retrigger restarts every channel stuck in StateError or
// StateTimedOut with a fresh attempt budget.
func (s *Subscriber) Retrigger() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}
	for _, entity := range common.Entities {
		st := s.states[entity]
		if (st == StateError || st == StateTimedOut) && !s.running[entity] {
			s.startChannelLocked(entity)
		}
	}
}

// Subscribe opens (or reopens) the channel for one entity. Idempotent: a
// running channel is left alone.
func (s *Subscriber) Subscribe(entity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}
	s.startChannelLocked(entity)
}

// Unsubscribe tears down one entity's channel. Safe from any state.
func (s *Subscriber) Unsubscribe(entity string) {
	s.mu.Lock()
	cancel := s.cancels[entity]
	delete(s.cancels, entity)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Subscriber) startChannelLocked(entity string) {
	if s.running[entity] {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.running[entity] = true
	s.cancels[entity] = cancel
	s.states[entity] = StateSubscribing
	s.wg.Add(1)
	accountID := s.accountID
	go func() {
		defer cancel()
		s.runChannel(ctx, accountID, entity)
	}()
}

// UnsubscribeAll tears down every channel and waits for them to stop.
func (s *Subscriber) UnsubscribeAll() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// States returns a snapshot of every channel's state.
func (s *Subscriber) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

func (s *Subscriber) setState(entity string, state State) {
	s.mu.Lock()
	s.states[entity] = state
	s.mu.Unlock()
}

func (s *Subscriber) runChannel(ctx context.Context, accountID, entity string) {
	defer func() {
		s.mu.Lock()
		s.running[entity] = false
		s.mu.Unlock()
		s.wg.Done()
	}()

	attempt := 0
	dropped := false
	for {
		s.setState(entity, StateSubscribing)
		sub, err := s.listener.Listen(ctx, entity, accountID)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(entity, StateClosed)
				return
			}
			attempt++
			if attempt > s.maxReconnects {
				s.logger.Error(ctx, "subscription reconnect attempts exhausted", "entity", entity, "error", err)
				s.setState(entity, exhaustedState(err))
				return
			}
			s.logger.Warn(ctx, "subscribe failed, retrying", "entity", entity, "attempt", attempt, "error", err)
			s.setState(entity, StateReconnecting)
			// Linear backoff: delay grows with the attempt number.
			if !sleepCtx(ctx, time.Duration(attempt)*s.reconnectDelay) {
				s.setState(entity, StateClosed)
				return
			}
			continue
		}

		s.setState(entity, StateSubscribed)
		attempt = 0
		if dropped && s.onResubscribed != nil {
			s.onResubscribed(entity)
		}

		// The transport session outlives the Listen call; tie it to this
		// channel's lifetime so cancellation closes the event stream.
		watchDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = sub.Close(closeCtx)
			case <-watchDone:
			}
		}()

		for ev := range sub.Events() {
			if err := s.apply(ctx, entity, ev); err != nil {
				s.logger.Error(ctx, "apply change event failed", "entity", entity, "type", ev.Type, "error", err)
				continue
			}
			if s.onChange != nil {
				s.onChange(entity)
			}
		}
		close(watchDone)

		if ctx.Err() != nil {
			s.setState(entity, StateClosed)
			return
		}
		if sub.Err() == nil {
			// Clean close from the transport side.
			s.setState(entity, StateUnsubscribed)
			return
		}
		s.logger.Warn(ctx, "subscription dropped", "entity", entity, "error", sub.Err())
		dropped = true
		attempt++
		if attempt > s.maxReconnects {
			s.setState(entity, exhaustedState(sub.Err()))
			return
		}
		s.setState(entity, StateReconnecting)
		if !sleepCtx(ctx, time.Duration(attempt)*s.reconnectDelay) {
			s.setState(entity, StateClosed)
			return
		}
	}
}

// exhaustedState classifies a channel that ran out of reconnect
// attempts: repeated transport timeouts are reported distinctly from
// other failures.
func exhaustedState(err error) State {
	if errors.Is(err, context.DeadlineExceeded) {
		return StateTimedOut
	}
	return StateError
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Subscriber) apply(ctx context.Context, entity string, ev remote.ChangeEvent) error {
	switch entity {
	case common.EntityTasks:
		return s.applyTask(ctx, ev)
	case common.EntityDailySelections:
		return s.applySelection(ctx, ev)
	case common.EntityTaskLogs:
		return s.applyLog(ctx, ev)
	}
	return fmt.Errorf("unknown entity %q", entity)
}

// eventRow picks the row image to decode: New for inserts and updates,
// Old for hard deletes.
func eventRow(ev remote.ChangeEvent) ([]byte, error) {
	if ev.Type == remote.EventDelete {
		if len(ev.Old) == 0 {
			return nil, errors.New("delete event without old row image")
		}
		return ev.Old, nil
	}
	if len(ev.New) == 0 {
		return nil, fmt.Errorf("%s event without new row image", ev.Type)
	}
	return ev.New, nil
}

// reclassifyDelete turns a hard remote delete into a tombstone so it
// flows through the same resolve path as every other change.
func (s *Subscriber) reclassifyDelete(ev remote.ChangeEvent, m *models.SyncMeta) {
	if ev.Type != remote.EventDelete || m.DeletedAt != nil {
		return
	}
	at := s.now()
	m.DeletedAt = &at
	m.UpdatedAt = at
}

// echo reports whether the event is this device's own write coming back.
func (s *Subscriber) echo(m *models.SyncMeta) bool {
	return m.DeviceID != nil && *m.DeviceID == s.deviceID
}

func (s *Subscriber) applyTask(ctx context.Context, ev remote.ChangeEvent) error {
	raw, err := eventRow(ev)
	if err != nil {
		return err
	}
	rec, err := decodeTask(raw)
	if err != nil {
		return err
	}
	if s.echo(rec.Meta()) {
		return nil
	}
	s.reclassifyDelete(ev, rec.Meta())

	repo := s.stores.Tasks(nil)
	cur, err := repo.GetByID(ctx, rec.ID)
	if errors.Is(err, common.ErrNotFound) {
		return repo.Upsert(ctx, rec)
	}
	if err != nil {
		return err
	}
	// Only a strictly newer remote write overwrites the local row; a
	// stale or same-age image is dropped without resolution.
	if !rec.UpdatedAt.After(cur.UpdatedAt) {
		return nil
	}
	return repo.Upsert(ctx, rec)
}

func (s *Subscriber) applySelection(ctx context.Context, ev remote.ChangeEvent) error {
	raw, err := eventRow(ev)
	if err != nil {
		return err
	}
	rec, err := decodeSelection(raw)
	if err != nil {
		return err
	}
	// Past and future days are reconciled by sync cycles; live events
	// only matter for the day currently on screen.
	if rec.Day != s.today() {
		return nil
	}
	if s.echo(rec.Meta()) {
		return nil
	}
	s.reclassifyDelete(ev, rec.Meta())

	repo := s.stores.Selections(nil)
	cur, err := repo.GetByID(ctx, rec.ID)
	if errors.Is(err, common.ErrNotFound) {
		return repo.Upsert(ctx, rec)
	}
	if err != nil {
		return err
	}
	if !rec.UpdatedAt.After(cur.UpdatedAt) {
		return nil
	}
	return repo.Upsert(ctx, rec)
}

func (s *Subscriber) applyLog(ctx context.Context, ev remote.ChangeEvent) error {
	if ev.Type == remote.EventDelete {
		// Logs are append-only; a remote hard delete is not replicated.
		return nil
	}
	raw, err := eventRow(ev)
	if err != nil {
		return err
	}
	rec, err := decodeLog(raw)
	if err != nil {
		return err
	}
	if s.echo(rec.Meta()) {
		return nil
	}
	return s.stores.Logs(nil).Insert(ctx, rec)
}
