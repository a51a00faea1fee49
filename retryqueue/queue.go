package retryqueue

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/offlinefirst/synccore/model"
)

// Queue is the Retry Queue (spec section 4.C). It is safe for concurrent
// use; the in-memory vector is the source of truth for the process
// lifetime, persistence is best-effort alongside it.
type Queue struct {
	log    *zap.Logger
	config Config
	exec   model.RemoteExecutor
	store  *persistence
	append Appender
	rng    *rand.Rand

	mu  sync.Mutex
	ops []*model.Operation

	observers []func([]*model.Operation)

	wake     chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Queue and reloads any previously-persisted operations,
// per the Design Notes' explicit-factory guidance.
func New(log *zap.Logger, config Config, exec model.RemoteExecutor) (*Queue, error) {
	config = config.withDefaults()
	store := newPersistence(config.PersistencePath)
	store.log = log

	q := &Queue{
		log:    log,
		config: config,
		exec:   exec,
		store:  store,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		wake:   make(chan struct{}, 1),
	}

	ops, err := store.load(time.Now, config.Profile.MaxRetries)
	if err != nil {
		return nil, err
	}
	q.ops = ops
	q.sortLocked()
	return q, nil
}

// SetAppender attaches an optional secondary journal (spec section 4.C).
func (q *Queue) SetAppender(a Appender) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.append = a
}

func (q *Queue) sortLocked() {
	sort.SliceStable(q.ops, func(i, j int) bool { return q.ops[i].Less(q.ops[j]) })
}

// Enqueue adds op to the queue, assigning an id and nextRetry if unset.
func (q *Queue) Enqueue(ctx context.Context, op model.Operation) (_ uuid.UUID, err error) {
	defer mon.Task()(&ctx)(&err)
	if op.OpID.IsZero() {
		op.OpID, err = uuid.New()
		if err != nil {
			return uuid.UUID{}, model.StorageIO(Error.Wrap(err))
		}
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}
	if op.Status == "" {
		op.Status = model.StatusPending
	}
	if op.NextRetry == nil {
		now := time.Now()
		op.NextRetry = &now
	}
	if err := op.Validate(q.config.Profile.MaxRetries); err != nil {
		return uuid.UUID{}, err
	}

	q.mu.Lock()
	cp := op
	q.ops = append(q.ops, &cp)
	q.sortLocked()
	q.mu.Unlock()

	q.persistAndNotify(ctx)
	q.triggerWake()
	return op.OpID, nil
}

// EnqueueBatch adds every op in ops, per spec section 4.C.
func (q *Queue) EnqueueBatch(ctx context.Context, ops []model.Operation) (ids []uuid.UUID, err error) {
	defer mon.Task()(&ctx)(&err)
	for _, op := range ops {
		id, err := q.Enqueue(ctx, op)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Cancel transitions op id to cancelled, a terminal status.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)
	q.mu.Lock()
	found := false
	for _, op := range q.ops {
		if op.OpID == id && !op.Status.Terminal() {
			op.Status = model.StatusCancelled
			found = true
			break
		}
	}
	q.mu.Unlock()
	if !found {
		return model.NotFound(Error.New("no cancellable operation with id %s", id))
	}
	q.persistAndNotify(ctx)
	return nil
}

// CancelAll transitions every non-terminal operation to cancelled.
func (q *Queue) CancelAll(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	q.mu.Lock()
	for _, op := range q.ops {
		if !op.Status.Terminal() {
			op.Status = model.StatusCancelled
		}
	}
	q.mu.Unlock()
	q.persistAndNotify(ctx)
	return nil
}

// Cleanup removes every terminal operation from the in-memory vector.
func (q *Queue) Cleanup(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	q.mu.Lock()
	remaining := q.ops[:0]
	for _, op := range q.ops {
		if !op.Status.Terminal() {
			remaining = append(remaining, op)
		}
	}
	q.ops = remaining
	q.mu.Unlock()
	q.persistAndNotify(ctx)
	return nil
}

// RetryFailed resets every failed operation back to retrying, nextRetry
// now, retryCount 0, lastError cleared, per spec section 4.C.
func (q *Queue) RetryFailed(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	now := time.Now()
	q.mu.Lock()
	for _, op := range q.ops {
		if op.Status == model.StatusFailed {
			op.Status = model.StatusRetrying
			op.RetryCount = 0
			op.NextRetry = &now
			op.LastError = nil
		}
	}
	q.mu.Unlock()
	q.persistAndNotify(ctx)
	q.triggerWake()
	return nil
}

// Snapshot returns a copy of the current operation-list observers receive.
func (q *Queue) Snapshot() []*model.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*model.Operation, len(q.ops))
	copy(out, q.ops)
	return out
}

// Observe registers fn to be called after every operation-set state change.
func (q *Queue) Observe(fn func([]*model.Operation)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observers = append(q.observers, fn)
}

func (q *Queue) persistAndNotify(ctx context.Context) {
	snapshot := q.Snapshot()

	if err := q.store.save(snapshot); err != nil {
		// Persistence failures are logged but never thrown out of the
		// calling operation, per spec section 4.C's failure semantics.
		if q.log != nil {
			q.log.Error("retryqueue: persist failed, in-memory state remains authoritative", zap.Error(err))
		}
	}

	q.mu.Lock()
	appender := q.append
	observers := append([]func([]*model.Operation){}, q.observers...)
	q.mu.Unlock()

	if appender != nil {
		if err := appender.Append(ctx, snapshot); err != nil && q.log != nil {
			q.log.Error("retryqueue: journal append failed", zap.Error(err))
		}
	}
	for _, fn := range observers {
		fn(snapshot)
	}
}

func (q *Queue) triggerWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
