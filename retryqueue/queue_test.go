package retryqueue_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/offlinefirst/synccore/model"
	"github.com/offlinefirst/synccore/retryqueue"
)

type recordingExecutor struct {
	mu    sync.Mutex
	order []string
	fail  map[string]bool
}

func (e *recordingExecutor) Execute(op *model.Operation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.order = append(e.order, op.EntityID)
	if e.fail[op.EntityID] {
		return model.TransientNetwork(nil)
	}
	return nil
}

func (e *recordingExecutor) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.order...)
}

func newTestQueue(t *testing.T, exec model.RemoteExecutor) *retryqueue.Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "RetryQueue.json")
	q, err := retryqueue.New(zap.NewNop(), retryqueue.Config{PersistencePath: path}, exec)
	require.NoError(t, err)
	return q
}

// TestPriorityOrdering covers S2: a low-priority op and a critical-priority
// op both ready; the critical one executes first.
func TestPriorityOrdering(t *testing.T) {
	exec := &recordingExecutor{}
	q := newTestQueue(t, exec)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, model.Operation{EntityID: "low", Priority: model.PriorityLow})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, model.Operation{EntityID: "critical", Priority: model.PriorityCritical})
	require.NoError(t, err)

	snapshot := q.Snapshot()
	require.Len(t, snapshot, 2)
	require.Equal(t, "critical", snapshot[0].EntityID, "critical priority must sort before low")
	require.Equal(t, "low", snapshot[1].EntityID)

	q.StartProcessing(ctx)
	require.Eventually(t, func() bool { return len(exec.calls()) == 2 }, 2*time.Second, 10*time.Millisecond)
	q.StopProcessing()

	calls := exec.calls()
	require.Equal(t, []string{"critical", "low"}, calls)
}

// TestRetryFailedResets covers retryFailed's documented reset behavior.
func TestRetryFailedResets(t *testing.T) {
	exec := &recordingExecutor{fail: map[string]bool{"flaky": true}}
	path := filepath.Join(t.TempDir(), "RetryQueue.json")
	q, err := retryqueue.New(zap.NewNop(), retryqueue.Config{
		PersistencePath: path,
		Profile:         retryqueue.Profile{InitialDelay: 0.01, Multiplier: 1, MaxDelay: 0.01, MaxRetries: 2},
	}, exec)
	require.NoError(t, err)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, model.Operation{EntityID: "flaky", Priority: model.PriorityNormal})
	require.NoError(t, err)

	q.StartProcessing(ctx)
	require.Eventually(t, func() bool {
		for _, op := range q.Snapshot() {
			if op.OpID == id && op.Status == model.StatusFailed {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	q.StopProcessing()

	for _, op := range q.Snapshot() {
		if op.OpID == id {
			require.Greater(t, op.RetryCount, 0)
		}
	}

	require.NoError(t, q.RetryFailed(ctx))

	for _, op := range q.Snapshot() {
		if op.OpID == id {
			require.Equal(t, model.StatusRetrying, op.Status)
			require.Equal(t, 0, op.RetryCount)
			require.NotNil(t, op.NextRetry)
			require.Nil(t, op.LastError)
		}
	}
}

// TestNewTreatsMalformedPersistedFileAsEmptyQueue covers spec section 6's
// "a missing or malformed file is equivalent to an empty queue": neither a
// truncated/non-JSON file nor a checksum mismatch should fail construction.
func TestNewTreatsMalformedPersistedFileAsEmptyQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "RetryQueue.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0600))

	q, err := retryqueue.New(zap.NewNop(), retryqueue.Config{PersistencePath: path}, &recordingExecutor{})
	require.NoError(t, err)
	require.Empty(t, q.Snapshot())
}

// TestNewTreatsChecksumMismatchAsEmptyQueue covers the same invariant for a
// structurally-valid document whose payload checksum no longer matches.
func TestNewTreatsChecksumMismatchAsEmptyQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "RetryQueue.json")
	tampered := `[{"opId":"00000000-0000-0000-0000-000000000001","entityId":"e1","status":"pending","checksum":1}]`
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0600))

	q, err := retryqueue.New(zap.NewNop(), retryqueue.Config{PersistencePath: path}, &recordingExecutor{})
	require.NoError(t, err)
	require.Empty(t, q.Snapshot())
}

func TestCancelRemovesFromEligibility(t *testing.T) {
	exec := &recordingExecutor{}
	q := newTestQueue(t, exec)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, model.Operation{EntityID: "cancel-me", Priority: model.PriorityNormal})
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, id))

	for _, op := range q.Snapshot() {
		if op.OpID == id {
			require.Equal(t, model.StatusCancelled, op.Status)
		}
	}
}
