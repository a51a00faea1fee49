package bwo

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/offlinefirst/synccore/model"
)

// Optimizer is the Bandwidth Optimizer (spec section 4.B). It issues
// transfer permits based on observed network quality; it performs no I/O of
// its own.
type Optimizer struct {
	log    *zap.Logger
	config Config

	mu       sync.Mutex
	quality  model.NetworkQuality
	queued   []*model.TransferTask
	active   map[uuid.UUID]*model.TransferTask
	limiter  *capSemaphore
	throughput *throughputWindow

	qualityObservers    []func(model.NetworkQuality)
	transferObservers   []func([]*model.TransferTask)
	throughputObservers []func(float64)
}

// New constructs an Optimizer, per the Design Notes' explicit-factory
// guidance (spec section 9).
func New(log *zap.Logger, config Config) *Optimizer {
	config = config.withDefaults()
	initialQuality := model.Classify(model.NetworkQuality{ConnectionType: model.ConnectionUnknown})
	return &Optimizer{
		log:        log,
		config:     config,
		quality:    initialQuality,
		active:     make(map[uuid.UUID]*model.TransferTask),
		limiter:    newCapSemaphore(concurrencyCap(initialQuality, config.MaxConcurrentTransfers)),
		throughput: newThroughputWindow(config.ThroughputWindowSize),
	}
}

// Enqueue inserts task into the priority-ordered queue and returns its id.
func (o *Optimizer) Enqueue(ctx context.Context, task model.TransferTask) (_ uuid.UUID, err error) {
	defer mon.Task()(&ctx)(&err)
	if task.TaskID.IsZero() {
		task.TaskID, err = uuid.New()
		if err != nil {
			return uuid.UUID{}, model.StorageIO(Error.Wrap(err))
		}
	}
	task.Status = model.TransferQueued
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	o.mu.Lock()
	cp := task
	o.queued = append(o.queued, &cp)
	o.sortQueueLocked()
	o.mu.Unlock()

	o.processQueue(ctx)
	o.notifyTransfers()
	return task.TaskID, nil
}

func (o *Optimizer) sortQueueLocked() {
	sort.SliceStable(o.queued, func(i, j int) bool {
		return o.queued[i].Priority > o.queued[j].Priority
	})
}

// Cancel transitions a queued or active task to cancelled.
func (o *Optimizer) Cancel(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)
	o.mu.Lock()
	defer o.mu.Unlock()

	if task, ok := o.active[id]; ok {
		task.Status = model.TransferCancelled
		delete(o.active, id)
		o.limiter.release()
		o.notifyTransfersLocked()
		return nil
	}
	for i, task := range o.queued {
		if task.TaskID == id {
			task.Status = model.TransferCancelled
			o.queued = append(o.queued[:i], o.queued[i+1:]...)
			o.notifyTransfersLocked()
			return nil
		}
	}
	return model.NotFound(Error.New("no transfer with id %s", id))
}

// Pause transitions an active task back to paused, freeing its admission slot.
func (o *Optimizer) Pause(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)
	o.mu.Lock()
	task, ok := o.active[id]
	if !ok {
		o.mu.Unlock()
		return model.NotFound(Error.New("no active transfer with id %s", id))
	}
	task.Status = model.TransferPaused
	delete(o.active, id)
	o.limiter.release()
	o.queued = append(o.queued, task)
	o.sortQueueLocked()
	o.mu.Unlock()

	o.notifyTransfers()
	return nil
}

// Resume requeues a paused task and re-runs admission.
func (o *Optimizer) Resume(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)
	o.mu.Lock()
	found := false
	for _, task := range o.queued {
		if task.TaskID == id && task.Status == model.TransferPaused {
			task.Status = model.TransferQueued
			found = true
			break
		}
	}
	o.mu.Unlock()
	if !found {
		return model.NotFound(Error.New("no paused transfer with id %s", id))
	}
	o.processQueue(ctx)
	o.notifyTransfers()
	return nil
}

// UpdateProgress records bytesSoFar for an active task and folds its
// instantaneous rate into the throughput window.
func (o *Optimizer) UpdateProgress(ctx context.Context, id uuid.UUID, bytesSoFar int64) (err error) {
	defer mon.Task()(&ctx)(&err)
	o.mu.Lock()
	task, ok := o.active[id]
	if !ok {
		o.mu.Unlock()
		return model.NotFound(Error.New("no active transfer with id %s", id))
	}
	task.TransferredBytes = bytesSoFar
	rate := task.Throughput(time.Now())
	o.mu.Unlock()

	if rate > 0 {
		o.throughput.record(rate)
		o.notifyThroughput()
	}
	o.notifyTransfers()
	return nil
}

// Complete marks an active task completed and frees its admission slot.
func (o *Optimizer) Complete(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)
	return o.finish(ctx, id, model.TransferCompleted, nil)
}

// Fail marks an active task failed and frees its admission slot.
func (o *Optimizer) Fail(ctx context.Context, id uuid.UUID, taskErr error) (err error) {
	defer mon.Task()(&ctx)(&err)
	return o.finish(ctx, id, model.TransferFailed, taskErr)
}

func (o *Optimizer) finish(ctx context.Context, id uuid.UUID, status model.TransferStatus, taskErr error) error {
	o.mu.Lock()
	task, ok := o.active[id]
	if !ok {
		o.mu.Unlock()
		return model.NotFound(Error.New("no active transfer with id %s", id))
	}
	now := time.Now()
	task.Status = status
	task.CompletedAt = &now
	if taskErr != nil {
		msg := taskErr.Error()
		task.LastError = &msg
	}
	delete(o.active, id)
	o.limiter.release()
	o.mu.Unlock()

	o.processQueue(ctx)
	o.notifyTransfers()
	return nil
}

// processQueue repeatedly promotes the highest-priority eligible queued
// task to active until capacity is reached, per spec section 4.B.
func (o *Optimizer) processQueue(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processQueueLocked(ctx)
}

func (o *Optimizer) processQueueLocked(_ context.Context) {
	quality := o.quality
	remaining := o.queued[:0]
	for _, task := range o.queued {
		if task.Status != model.TransferQueued && task.Status != model.TransferPaused {
			continue
		}
		if !eligible(quality, task.Size, o.config.LargeFileThreshold, o.config.WifiOnlyForLargeFiles) {
			// Policy-gated (e.g. large file on cellular with WifiOnlyForLargeFiles):
			// paused, not merely waiting for capacity, per spec section 8 S6.
			task.Status = model.TransferPaused
			remaining = append(remaining, task)
			continue
		}
		if o.limiter.tryAcquire() {
			now := time.Now()
			task.Status = model.TransferActive
			task.StartedAt = &now
			o.active[task.TaskID] = task
			continue
		}
		task.Status = model.TransferQueued
		remaining = append(remaining, task)
	}
	o.queued = remaining
}

// OnPathChange recomputes quality from q, publishes it to observers, and
// applies spec section 4.B's "on path change" shedding rules.
func (o *Optimizer) OnPathChange(ctx context.Context, q model.NetworkQuality) {
	classified := model.Classify(q)

	o.mu.Lock()
	o.quality = classified
	o.limiter.resize(concurrencyCap(classified, o.config.MaxConcurrentTransfers))

	var toPause []uuid.UUID
	for id, task := range o.active {
		if task.Size > o.config.LargeFileThreshold && o.config.WifiOnlyForLargeFiles &&
			classified.ConnectionType != model.ConnectionWiFi && classified.ConnectionType != model.ConnectionEthernet {
			toPause = append(toPause, id)
		}
	}

	for o.limiter.used()-len(toPause) > o.limiter.cap() {
		lowest := o.lowestPriorityActiveLocked(toPause)
		if lowest == nil {
			break
		}
		toPause = append(toPause, lowest.TaskID)
	}
	o.mu.Unlock()

	for _, id := range toPause {
		_ = o.Pause(ctx, id)
	}

	o.processQueue(ctx)
	o.notifyQuality()
	o.notifyTransfers()
}

func (o *Optimizer) lowestPriorityActiveLocked(excluding []uuid.UUID) *model.TransferTask {
	skip := make(map[uuid.UUID]bool, len(excluding))
	for _, id := range excluding {
		skip[id] = true
	}
	var lowest *model.TransferTask
	for id, task := range o.active {
		if skip[id] {
			continue
		}
		if lowest == nil || task.Priority < lowest.Priority {
			lowest = task
		}
	}
	return lowest
}

// ShouldDeferSync reports whether a task at priority should be deferred
// rather than enqueued now, per spec section 4.B.
func (o *Optimizer) ShouldDeferSync(priority model.Priority) bool {
	o.mu.Lock()
	quality := o.quality
	o.mu.Unlock()
	return shouldDeferSync(quality, priority)
}

// OptimalChunkSize returns the current quality band's recommended chunk size.
func (o *Optimizer) OptimalChunkSize() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return optimalChunkSize(o.config.BaseChunkSize, o.quality.SignalStrength)
}

// RecommendedBatchSize returns the current quality band's recommended batch size.
func (o *Optimizer) RecommendedBatchSize() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return recommendedBatchSize(o.config.BaseChunkSize, o.quality.SignalStrength)
}

// AverageThroughput returns the mean of the retained throughput samples.
func (o *Optimizer) AverageThroughput() float64 {
	return o.throughput.average()
}

// ObserveQuality registers fn to be called after every quality recompute.
func (o *Optimizer) ObserveQuality(fn func(model.NetworkQuality)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.qualityObservers = append(o.qualityObservers, fn)
}

// ObserveTransfers registers fn to be called after every transfer-list
// change, receiving a snapshot of every active and queued task.
func (o *Optimizer) ObserveTransfers(fn func([]*model.TransferTask)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transferObservers = append(o.transferObservers, fn)
}

// ObserveThroughput registers fn to be called after every throughput sample.
func (o *Optimizer) ObserveThroughput(fn func(float64)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.throughputObservers = append(o.throughputObservers, fn)
}

func (o *Optimizer) notifyQuality() {
	o.mu.Lock()
	q := o.quality
	observers := append([]func(model.NetworkQuality){}, o.qualityObservers...)
	o.mu.Unlock()
	for _, fn := range observers {
		fn(q)
	}
}

func (o *Optimizer) notifyTransfers() {
	o.mu.Lock()
	o.notifyTransfersLocked()
	o.mu.Unlock()
}

func (o *Optimizer) notifyTransfersLocked() {
	snapshot := make([]*model.TransferTask, 0, len(o.active)+len(o.queued))
	for _, task := range o.active {
		snapshot = append(snapshot, task)
	}
	snapshot = append(snapshot, o.queued...)
	observers := append([]func([]*model.TransferTask){}, o.transferObservers...)
	for _, fn := range observers {
		fn(snapshot)
	}
}

func (o *Optimizer) notifyThroughput() {
	avg := o.throughput.average()
	o.mu.Lock()
	observers := append([]func(float64){}, o.throughputObservers...)
	o.mu.Unlock()
	for _, fn := range observers {
		fn(avg)
	}
}
