package oum

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/offlinefirst/synccore/ecstore"
	"github.com/offlinefirst/synccore/model"
)

// indexEntry records where one entity's latest encoding lives in ECS.
type indexEntry struct {
	BlobID string `json:"blobId"`
	Type   string `json:"type"`
}

// ECSEntityStore adapts an *ecstore.Store into an EntityStore: ECS's put
// hands back a generated blob id, so this adapter keeps its own
// entityId -> blobId index, persisted atomically alongside (but never
// inside) ECS's own data/meta tree, honoring section 5's rule that ECS's
// on-disk layout is owned solely by ECS.
type ECSEntityStore struct {
	store      *ecstore.Store
	codec      model.Codec
	indexPath  string
	mu         sync.Mutex
	entityToID map[string]indexEntry
}

// NewECSEntityStore returns an EntityStore backed by store, serializing
// entities with codec and persisting its entityId index at indexPath.
func NewECSEntityStore(store *ecstore.Store, codec model.Codec, indexPath string) (*ECSEntityStore, error) {
	a := &ECSEntityStore{store: store, codec: codec, indexPath: indexPath, entityToID: make(map[string]indexEntry)}
	if err := a.loadIndex(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *ECSEntityStore) loadIndex() error {
	raw, err := os.ReadFile(a.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return model.StorageIO(Error.Wrap(err))
	}
	return json.Unmarshal(raw, &a.entityToID)
}

func (a *ECSEntityStore) saveIndexLocked() error {
	encoded, err := json.Marshal(a.entityToID)
	if err != nil {
		return model.StorageIO(Error.Wrap(err))
	}
	tmp := a.indexPath + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0600); err != nil {
		return model.StorageIO(Error.Wrap(err))
	}
	return os.Rename(tmp, a.indexPath)
}

// Get decodes and returns the entity stored under entityID.
func (a *ECSEntityStore) Get(ctx context.Context, entityID string) (model.Entity, error) {
	a.mu.Lock()
	entry, ok := a.entityToID[entityID]
	a.mu.Unlock()
	if !ok {
		return nil, model.NotFound(Error.New("no entity with id %q", entityID))
	}

	raw, err := a.store.Get(ctx, entry.BlobID)
	if err != nil {
		return nil, err
	}
	return a.codec.Decode(entry.Type, raw)
}

// Put encodes e and writes it under entityType, replacing any prior blob
// for the same entity id.
func (a *ECSEntityStore) Put(ctx context.Context, entityType string, e model.Entity) error {
	encoded, err := a.codec.Encode(e)
	if err != nil {
		return Error.Wrap(err)
	}

	a.mu.Lock()
	previous, hadPrevious := a.entityToID[e.ID()]
	a.mu.Unlock()

	newID, err := a.store.Put(ctx, entityType, encoded)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.entityToID[e.ID()] = indexEntry{BlobID: newID, Type: entityType}
	saveErr := a.saveIndexLocked()
	a.mu.Unlock()
	if saveErr != nil {
		return saveErr
	}

	if hadPrevious {
		_ = a.store.Delete(ctx, previous.BlobID)
	}
	return nil
}

// Delete removes the blob stored under entityID, if any.
func (a *ECSEntityStore) Delete(ctx context.Context, entityID string) error {
	a.mu.Lock()
	entry, ok := a.entityToID[entityID]
	delete(a.entityToID, entityID)
	saveErr := a.saveIndexLocked()
	a.mu.Unlock()
	if saveErr != nil {
		return saveErr
	}
	if !ok {
		return nil
	}
	return a.store.Delete(ctx, entry.BlobID)
}

var _ EntityStore = (*ECSEntityStore)(nil)
