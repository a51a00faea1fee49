package oum_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/offlinefirst/synccore/model"
	"github.com/offlinefirst/synccore/oum"
)

type testEntity struct {
	IDValue         string    `json:"id"`
	Name            string    `json:"name"`
	ModifiedAtValue time.Time `json:"modifiedAt"`
	VersionNum      int       `json:"version"`
	DirtyFlag       bool      `json:"dirty"`
}

func (e *testEntity) ID() string            { return e.IDValue }
func (e *testEntity) ModifiedAt() time.Time { return e.ModifiedAtValue }
func (e *testEntity) Version() int          { return e.VersionNum }
func (e *testEntity) Dirty() bool           { return e.DirtyFlag }

type jsonCodec struct{}

func (jsonCodec) Encode(e model.Entity) ([]byte, error) { return json.Marshal(e) }
func (jsonCodec) Decode(entityType string, data []byte) (model.Entity, error) {
	var e testEntity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

type memStore struct {
	mu   sync.Mutex
	data map[string]model.Entity
}

func newMemStore() *memStore { return &memStore{data: make(map[string]model.Entity)} }

func (s *memStore) Get(ctx context.Context, entityID string) (model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[entityID]
	if !ok {
		return nil, model.NotFound(nil)
	}
	return e, nil
}

func (s *memStore) Put(ctx context.Context, entityType string, e model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[e.ID()] = e
	return nil
}

func (s *memStore) Delete(ctx context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, entityID)
	return nil
}

// TestOptimisticUpdateRollsBackOnFailure covers S4.
func TestOptimisticUpdateRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.data["u1"] = &testEntity{IDValue: "u1", Name: "Alice"}

	m := oum.New(zap.NewNop(), oum.Config{}, store, jsonCodec{})

	id, err := m.OptimisticUpdate(ctx, "User", &testEntity{IDValue: "u1", Name: "Bob"}, func(ctx context.Context) (model.Entity, error) {
		return nil, model.TerminalServer(nil)
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !m.IsPending("u1") && m.IsFailed("u1")
	}, 2*time.Second, 10*time.Millisecond)

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Alice", got.(*testEntity).Name)

	require.NoError(t, m.Rollback(ctx, id))
	require.False(t, m.IsFailed("u1"))
}

// TestCapacityEvictsOldestRegardlessOfStatus covers spec section 4.D: once
// MaxPendingUpdates is reached, the oldest tracked update is rolled back even
// if it has already advanced to syncing by the time the cap is hit (apply
// spawns runSync immediately, so the oldest entry is rarely still pending).
func TestCapacityEvictsOldestRegardlessOfStatus(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.data["first"] = &testEntity{IDValue: "first", Name: "Original"}

	block := make(chan struct{})
	syncing := make(chan struct{})
	var once sync.Once
	m := oum.New(zap.NewNop(), oum.Config{MaxPendingUpdates: 1}, store, jsonCodec{})

	_, err := m.OptimisticUpdate(ctx, "User", &testEntity{IDValue: "first", Name: "Changed"}, func(ctx context.Context) (model.Entity, error) {
		once.Do(func() { close(syncing) })
		<-block
		return nil, model.TerminalServer(nil)
	})
	require.NoError(t, err)

	// Wait until the first update's sync goroutine has actually started, so
	// its status has moved past UpdatePending before the cap is exercised.
	<-syncing

	_, err = m.OptimisticCreate(ctx, "User", &testEntity{IDValue: "second", Name: "New"}, func(ctx context.Context) (model.Entity, error) {
		return &testEntity{IDValue: "second", Name: "New"}, nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !m.IsPending("first") }, 2*time.Second, 10*time.Millisecond)

	got, err := store.Get(ctx, "first")
	require.NoError(t, err)
	require.Equal(t, "Original", got.(*testEntity).Name, "evicted update must roll back to its snapshot")

	close(block)
}

func TestOptimisticCreateConfirms(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := oum.New(zap.NewNop(), oum.Config{}, store, jsonCodec{})

	echoed := &testEntity{IDValue: "u2", Name: "Server-Confirmed"}
	_, err := m.OptimisticCreate(ctx, "User", &testEntity{IDValue: "u2", Name: "Local"}, func(ctx context.Context) (model.Entity, error) {
		return echoed, nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !m.IsPending("u2") }, 2*time.Second, 10*time.Millisecond)

	got, err := store.Get(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, "Server-Confirmed", got.(*testEntity).Name)
}
