package retryqueue

import (
	"context"
	"sync"
	"time"

	"github.com/offlinefirst/synccore/model"
)

// StartProcessing launches the executor loop in the background. The wake
// condition is event-driven (earliest eligible nextRetry, or a fresh
// enqueue) rather than a fixed interval, so the loop sleeps on its own
// timer/wake-channel select rather than a fixed-period trigger — see
// DESIGN.md.
func (q *Queue) StartProcessing(ctx context.Context) {
	q.mu.Lock()
	if q.stopCh != nil {
		q.mu.Unlock()
		return
	}
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.stopOnce = sync.Once{}
	q.mu.Unlock()

	go q.run(ctx)
}

// StopProcessing halts the executor loop and waits for it to exit.
func (q *Queue) StopProcessing() {
	q.mu.Lock()
	stopCh := q.stopCh
	doneCh := q.doneCh
	q.mu.Unlock()
	if stopCh == nil {
		return
	}
	q.stopOnce.Do(func() { close(stopCh) })
	<-doneCh
}

func (q *Queue) run(ctx context.Context) {
	q.mu.Lock()
	doneCh := q.doneCh
	q.mu.Unlock()
	defer func() {
		// Clear the running marker so a later StartProcessing launches a
		// fresh loop.
		q.mu.Lock()
		q.stopCh = nil
		q.mu.Unlock()
		close(doneCh)
	}()
	for {
		op, wait, ok := q.nextEligible()
		if !ok {
			// No pending operations remain; the executor loop exits,
			// per spec section 4.C step (3). StartProcessing must be
			// called again after a future Enqueue.
			return
		}
		if op == nil {
			if !q.sleepOrWake(ctx, wait) {
				return
			}
			continue
		}
		q.execute(ctx, op)
	}
}

// nextEligible returns (op, 0, true) if an operation is ready now, (nil,
// wait, true) if operations remain but none are ready yet, or (nil, 0,
// false) if no pending/retrying operations remain at all.
func (q *Queue) nextEligible() (*model.Operation, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var earliest *time.Time
	for _, op := range q.ops {
		if op.Status != model.StatusPending && op.Status != model.StatusRetrying {
			continue
		}
		if op.Eligible(now) {
			return op, 0, true
		}
		if op.NextRetry != nil && (earliest == nil || op.NextRetry.Before(*earliest)) {
			earliest = op.NextRetry
		}
	}
	if earliest == nil {
		return nil, 0, false
	}
	return nil, earliest.Sub(now), true
}

// sleepOrWake sleeps up to wait, waking early if a new operation arrives or
// the loop is stopped. Returns false if the loop should exit.
func (q *Queue) sleepOrWake(ctx context.Context, wait time.Duration) bool {
	if wait < 0 {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	q.mu.Lock()
	stopCh := q.stopCh
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	case <-q.wake:
		return true
	case <-timer.C:
		return true
	}
}

func (q *Queue) execute(ctx context.Context, op *model.Operation) {
	now := time.Now()
	q.mu.Lock()
	op.Status = model.StatusInProgress
	op.LastAttempt = &now
	q.mu.Unlock()
	q.persistAndNotify(ctx)

	execErr := q.exec.Execute(op)

	q.mu.Lock()
	switch {
	case execErr == nil:
		op.Status = model.StatusCompleted
		op.LastError = nil
	case model.IsRetryable(execErr) && op.RetryCount+1 < q.config.Profile.MaxRetries:
		op.RetryCount++
		delay := computeBackoff(q.config.Profile, op.RetryCount, q.rng)
		next := time.Now().Add(delay)
		op.Status = model.StatusRetrying
		op.NextRetry = &next
		msg := execErr.Error()
		op.LastError = &msg
	default:
		op.Status = model.StatusFailed
		msg := execErr.Error()
		op.LastError = &msg
	}
	q.mu.Unlock()

	q.persistAndNotify(ctx)
}
