package orchestrator_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/synccore/model"
	"github.com/offlinefirst/synccore/orchestrator"
	"github.com/offlinefirst/synccore/retryqueue"
)

type fakeEntity struct {
	IDValue         string    `json:"id"`
	Value           int       `json:"value"`
	ModifiedAtValue time.Time `json:"modifiedAt"`
	VersionNum      int       `json:"version"`
}

func (e *fakeEntity) ID() string            { return e.IDValue }
func (e *fakeEntity) ModifiedAt() time.Time { return e.ModifiedAtValue }
func (e *fakeEntity) Version() int          { return e.VersionNum }
func (e *fakeEntity) Dirty() bool           { return false }

type fakeCodec struct{}

func (fakeCodec) Encode(e model.Entity) ([]byte, error) { return json.Marshal(e) }
func (fakeCodec) Decode(_ string, data []byte) (model.Entity, error) {
	var e fakeEntity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

type fakeStore struct {
	mu   sync.Mutex
	data map[string]model.Entity
}

func newFakeStore() *fakeStore { return &fakeStore{data: make(map[string]model.Entity)} }

func (s *fakeStore) Get(ctx context.Context, entityID string) (model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[entityID]
	if !ok {
		return nil, model.NotFound(nil)
	}
	return e, nil
}

func (s *fakeStore) Put(ctx context.Context, entityType string, e model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[e.ID()] = e
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, entityID)
	return nil
}

type noopExecutor struct{}

func (noopExecutor) Execute(op *model.Operation) error { return nil }

// TestResolverConflictLastWriterWins covers S5: a newer remote update
// replaces local, an older remote update is discarded and local survives.
func TestResolverConflictLastWriterWins(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.data["e1"] = &fakeEntity{IDValue: "e1", Value: 3, ModifiedAtValue: base, VersionNum: 3}

	queue, err := retryqueue.New(nil, retryqueue.Config{
		PersistencePath: filepath.Join(t.TempDir(), "queue.json"),
	}, noopExecutor{})
	require.NoError(t, err)

	resolver := orchestrator.NewResolver(store, queue, fakeCodec{})

	// Newer remote update wins.
	err = resolver.Apply(ctx, model.Change{
		Updated: &fakeEntity{IDValue: "e1", Value: 4, ModifiedAtValue: base.Add(time.Second), VersionNum: 4},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, 4, got.(*fakeEntity).Value)

	// Older remote update is discarded; local is preserved.
	err = resolver.Apply(ctx, model.Change{
		Updated: &fakeEntity{IDValue: "e1", Value: 99, ModifiedAtValue: base.Add(-time.Second), VersionNum: 99},
	})
	require.NoError(t, err)

	got, err = store.Get(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, 4, got.(*fakeEntity).Value)
}

// TestResolverCreatedWithNoLocalConflict covers the unconditional-apply
// path: no prior local entity means there is nothing to conflict with.
func TestResolverCreatedWithNoLocalConflict(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()

	queue, err := retryqueue.New(nil, retryqueue.Config{
		PersistencePath: filepath.Join(t.TempDir(), "queue.json"),
	}, noopExecutor{})
	require.NoError(t, err)

	resolver := orchestrator.NewResolver(store, queue, fakeCodec{})

	err = resolver.Apply(ctx, model.Change{
		Created: &fakeEntity{IDValue: "e2", Value: 1, ModifiedAtValue: time.Now(), VersionNum: 1},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, "e2")
	require.NoError(t, err)
	require.Equal(t, 1, got.(*fakeEntity).Value)
}
