package oum

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/offlinefirst/synccore/model"
)

// SyncFunc performs the remote side-effect of one optimistic update and
// returns the server-echoed entity on success.
type SyncFunc func(ctx context.Context) (model.Entity, error)

// Manager is the Optimistic Update Manager (spec section 4.D). It is
// intended to be driven only from a single UI-affine executor goroutine
// per section 4.D's concurrency note; its exported methods still take a
// lock so accidental concurrent use fails safe rather than silently
// corrupting state.
type Manager struct {
	log    *zap.Logger
	config Config
	store  EntityStore
	codec  model.Codec

	mu       sync.Mutex
	pending  map[uuid.UUID]*model.PendingUpdate
	order    []uuid.UUID // insertion order, oldest first, for capacity eviction
	deadlines *deadlineQueue

	pendingObservers []func([]*model.PendingUpdate)
	failedObservers  []func([]*model.PendingUpdate)

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Manager, per the Design Notes' explicit-factory guidance.
func New(log *zap.Logger, config Config, store EntityStore, codec model.Codec) *Manager {
	config = config.withDefaults()
	return &Manager{
		log:       log,
		config:    config,
		store:     store,
		codec:     codec,
		pending:   make(map[uuid.UUID]*model.PendingUpdate),
		deadlines: newDeadlineQueue(),
	}
}

// Run drives the rollback-deadline timer until ctx is cancelled, per the
// Design Notes' single-timer guidance (spec section 9).
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	defer close(doneCh)
	for {
		wait, ok := m.nextDeadlineWait()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if ok {
				m.expireDeadlines(ctx)
			}
		}
	}
}

// Stop halts Run's timer loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	stopCh := m.stopCh
	m.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-m.doneCh
}

func (m *Manager) nextDeadlineWait() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, deadline, ok := m.deadlines.peek()
	if !ok {
		// Every deadline is now + RollbackTimeout, so one added while the
		// loop sleeps this long never falls before the next check.
		return m.config.RollbackTimeout, false
	}
	wait := time.Until(deadline)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func (m *Manager) expireDeadlines(ctx context.Context) {
	m.mu.Lock()
	expired := m.deadlines.popExpired(time.Now())
	m.mu.Unlock()
	for _, id := range expired {
		_ = m.Rollback(ctx, id)
	}
}

// OptimisticCreate inserts entity into the store immediately, runs syncFn
// in the background, and returns the update's id.
func (m *Manager) OptimisticCreate(ctx context.Context, entityType string, entity model.Entity, syncFn SyncFunc) (uuid.UUID, error) {
	return m.apply(ctx, model.UpdateCreate, entityType, entity, nil, syncFn)
}

// OptimisticUpdate snapshots the current entity, replaces it with entity,
// and runs syncFn in the background.
func (m *Manager) OptimisticUpdate(ctx context.Context, entityType string, entity model.Entity, syncFn SyncFunc) (uuid.UUID, error) {
	original, err := m.store.Get(ctx, entity.ID())
	if err != nil {
		return uuid.UUID{}, err
	}
	return m.apply(ctx, model.UpdateUpdate, entityType, entity, original, syncFn)
}

// OptimisticDelete snapshots the current entity, removes it, and runs
// syncFn in the background.
func (m *Manager) OptimisticDelete(ctx context.Context, entityType, entityID string, syncFn SyncFunc) (uuid.UUID, error) {
	original, err := m.store.Get(ctx, entityID)
	if err != nil {
		return uuid.UUID{}, err
	}
	return m.apply(ctx, model.UpdateDelete, entityType, original, original, syncFn)
}

// apply performs the create/update/delete application rule for entity,
// records the pending update, and launches its background sync.
func (m *Manager) apply(ctx context.Context, op model.UpdateOp, entityType string, entity, original model.Entity, syncFn SyncFunc) (uuid.UUID, error) {
	id, err := uuid.New()
	if err != nil {
		return uuid.UUID{}, model.StorageIO(Error.Wrap(err))
	}

	var originalBytes, optimisticBytes []byte
	if original != nil {
		originalBytes, err = m.codec.Encode(original)
		if err != nil {
			return uuid.UUID{}, Error.Wrap(err)
		}
	}
	if entity != nil {
		optimisticBytes, err = m.codec.Encode(entity)
		if err != nil {
			return uuid.UUID{}, Error.Wrap(err)
		}
	}

	entityID := ""
	if entity != nil {
		entityID = entity.ID()
	} else if original != nil {
		entityID = original.ID()
	}

	update := &model.PendingUpdate{
		UpdateID:        id,
		EntityID:        entityID,
		EntityType:      entityType,
		Op:              op,
		OriginalValue:   originalBytes,
		OptimisticValue: optimisticBytes,
		Status:          model.UpdatePending,
		DeadlineAt:      time.Now().Add(m.config.RollbackTimeout),
	}
	if err := update.Validate(); err != nil {
		return uuid.UUID{}, err
	}

	// Apply rule: create inserts, update replaces, delete removes.
	switch op {
	case model.UpdateCreate, model.UpdateUpdate:
		if err := m.store.Put(ctx, entityType, entity); err != nil {
			return uuid.UUID{}, err
		}
	case model.UpdateDelete:
		if err := m.store.Delete(ctx, entityID); err != nil {
			return uuid.UUID{}, err
		}
	}

	m.mu.Lock()
	if len(m.pending) >= m.config.MaxPendingUpdates {
		oldest := m.oldestPendingLocked()
		m.mu.Unlock()
		if oldest != (uuid.UUID{}) {
			_ = m.Rollback(ctx, oldest)
		}
		m.mu.Lock()
	}
	m.pending[id] = update
	m.order = append(m.order, id)
	m.deadlines.add(id, update.DeadlineAt)
	m.mu.Unlock()

	m.notifyPending()
	go m.runSync(ctx, id, syncFn)

	return id, nil
}

// oldestPendingLocked returns the oldest still-tracked update in enqueue
// order, regardless of its current status: by the time the cap is hit the
// oldest entry has very likely already moved past pending into syncing (or
// even failed), since apply spawns its sync goroutine immediately. Matching
// on literal UpdatePending would miss those and let m.pending grow past
// MaxPendingUpdates, violating spec section 4.D's eviction invariant.
func (m *Manager) oldestPendingLocked() uuid.UUID {
	for _, id := range m.order {
		if _, ok := m.pending[id]; ok {
			return id
		}
	}
	return uuid.UUID{}
}

func (m *Manager) runSync(ctx context.Context, id uuid.UUID, syncFn SyncFunc) {
	m.mu.Lock()
	update, ok := m.pending[id]
	if ok {
		update.Status = model.UpdateSyncing
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.notifyPending()

	echoed, err := syncFn(ctx)
	if err != nil {
		// The store reverts to its pre-update state immediately, but the
		// pending record stays around (now in the failed list) until the
		// caller explicitly rolls it back or retries, per S4.
		if restoreErr := m.restoreStore(ctx, update); restoreErr != nil && m.log != nil {
			m.log.Error("oum: failed to restore store on sync failure", zap.Error(restoreErr))
		}
		m.mu.Lock()
		update.Status = model.UpdateFailed
		msg := err.Error()
		update.LastError = &msg
		m.deadlines.remove(id)
		m.mu.Unlock()
		m.notifyPending()
		m.notifyFailed()
		return
	}

	m.mu.Lock()
	entityType := update.EntityType
	m.mu.Unlock()

	if echoed != nil && update.Op != model.UpdateDelete {
		if putErr := m.store.Put(ctx, entityType, echoed); putErr != nil {
			if m.log != nil {
				m.log.Error("oum: failed to replace optimistic value with server echo", zap.Error(putErr))
			}
		}
	}

	m.mu.Lock()
	if u, ok := m.pending[id]; ok {
		u.Status = model.UpdateConfirmed
	}
	m.deadlines.remove(id)
	delete(m.pending, id)
	m.mu.Unlock()
	m.notifyPending()
}

// restoreStore undoes update's optimistic store mutation: removing the
// optimistic insert for create, or restoring the snapshot for update/delete.
// Idempotent, so it is safe to call again from an explicit Rollback even
// after a prior automatic restoration on sync failure.
func (m *Manager) restoreStore(ctx context.Context, update *model.PendingUpdate) error {
	switch update.Op {
	case model.UpdateCreate:
		return m.store.Delete(ctx, update.EntityID)
	case model.UpdateUpdate, model.UpdateDelete:
		if len(update.OriginalValue) == 0 {
			return nil
		}
		original, err := m.codec.Decode(update.EntityType, update.OriginalValue)
		if err != nil {
			return Error.Wrap(err)
		}
		return m.store.Put(ctx, update.EntityType, original)
	}
	return nil
}

// Rollback restores the store to its pre-update state (if not already
// restored by a prior sync failure) and purges the pending record, per
// spec section 4.D's failed -> rolledBack -> purge sequence.
func (m *Manager) Rollback(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	m.mu.Lock()
	update, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		return model.NotFound(Error.New("no pending update with id %s", id))
	}

	err = m.restoreStore(ctx, update)

	m.mu.Lock()
	update.Status = model.UpdateRolledBack
	m.deadlines.remove(id)
	delete(m.pending, id)
	m.mu.Unlock()
	m.notifyPending()

	return err
}

// RollbackAll rolls back every currently-pending update.
func (m *Manager) RollbackAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Rollback(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Retry re-runs syncFn for a failed update, transitioning it back to syncing.
func (m *Manager) Retry(ctx context.Context, id uuid.UUID, syncFn SyncFunc) error {
	m.mu.Lock()
	update, ok := m.pending[id]
	if !ok || update.Status != model.UpdateFailed {
		m.mu.Unlock()
		return model.NotFound(Error.New("no failed update with id %s", id))
	}
	update.Status = model.UpdatePending
	update.LastError = nil
	update.DeadlineAt = time.Now().Add(m.config.RollbackTimeout)
	m.deadlines.add(id, update.DeadlineAt)
	m.mu.Unlock()

	m.notifyPending()
	go m.runSync(ctx, id, syncFn)
	return nil
}

// IsPending reports whether entityID has an in-flight (non-failed) update.
func (m *Manager) IsPending(entityID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.pending {
		if u.EntityID == entityID && (u.Status == model.UpdatePending || u.Status == model.UpdateSyncing) {
			return true
		}
	}
	return false
}

// IsFailed reports whether entityID has a failed update awaiting retry or rollback.
func (m *Manager) IsFailed(entityID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.pending {
		if u.EntityID == entityID && u.Status == model.UpdateFailed {
			return true
		}
	}
	return false
}

// ObservePending registers fn to be called after every change to the
// pending-update list.
func (m *Manager) ObservePending(fn func([]*model.PendingUpdate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingObservers = append(m.pendingObservers, fn)
}

// ObserveFailed registers fn to be called whenever an update transitions to failed.
func (m *Manager) ObserveFailed(fn func([]*model.PendingUpdate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedObservers = append(m.failedObservers, fn)
}

func (m *Manager) notifyPending() {
	m.mu.Lock()
	snapshot := make([]*model.PendingUpdate, 0, len(m.pending))
	for _, u := range m.pending {
		snapshot = append(snapshot, u)
	}
	observers := append([]func([]*model.PendingUpdate){}, m.pendingObservers...)
	m.mu.Unlock()
	for _, fn := range observers {
		fn(snapshot)
	}
}

func (m *Manager) notifyFailed() {
	m.mu.Lock()
	var failed []*model.PendingUpdate
	for _, u := range m.pending {
		if u.Status == model.UpdateFailed {
			failed = append(failed, u)
		}
	}
	observers := append([]func([]*model.PendingUpdate){}, m.failedObservers...)
	m.mu.Unlock()
	for _, fn := range observers {
		fn(failed)
	}
}
