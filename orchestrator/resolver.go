package orchestrator

import (
	"context"

	"github.com/offlinefirst/synccore/model"
	"github.com/offlinefirst/synccore/oum"
	"github.com/offlinefirst/synccore/retryqueue"
)

// Resolver applies one remote Change to the local store with last-writer-
// wins conflict resolution, per spec section 3/S5: the entity with the
// newer modifiedAt wins; on an exact tie the local entity wins. When the
// remote update loses, it is discarded and the local entity is re-enqueued
// onto the retry queue so it propagates to the remote side again.
type Resolver struct {
	store EntityGetPutDeleter
	queue *retryqueue.Queue
	codec model.Codec
}

// EntityGetPutDeleter is the local entity store a Resolver applies remote
// changes against. oum.ECSEntityStore satisfies it directly.
type EntityGetPutDeleter = oum.EntityStore

// NewResolver returns a Resolver applying remote changes to store,
// re-enqueueing onto queue whenever the local entity wins a conflict.
func NewResolver(store EntityGetPutDeleter, queue *retryqueue.Queue, codec model.Codec) *Resolver {
	return &Resolver{store: store, queue: queue, codec: codec}
}

// Apply applies a single remote Change (spec section 6: exactly one of
// Created, Updated, or a non-empty DeletedID is set).
func (r *Resolver) Apply(ctx context.Context, change model.Change) error {
	switch {
	case change.Created != nil:
		return r.applyRemote(ctx, change.Created)
	case change.Updated != nil:
		return r.applyRemote(ctx, change.Updated)
	case change.DeletedID != "":
		return r.store.Delete(ctx, change.DeletedID)
	default:
		return nil
	}
}

// applyRemote resolves a created/updated remote entity against whatever is
// currently stored locally under the same id.
func (r *Resolver) applyRemote(ctx context.Context, remote model.Entity) error {
	local, err := r.store.Get(ctx, remote.ID())
	if err != nil {
		if model.Kind(err) == model.KindNotFound {
			return r.store.Put(ctx, entityTypeOf(remote), remote)
		}
		return err
	}

	if remote.ModifiedAt().After(local.ModifiedAt()) {
		return r.store.Put(ctx, entityTypeOf(remote), remote)
	}

	// Remote modifiedAt is older than, or exactly equal to, local's: local
	// wins the tie. Discard the remote update and re-enqueue the local
	// entity so it is pushed to the remote side again.
	return r.reenqueueLocal(ctx, local)
}

func (r *Resolver) reenqueueLocal(ctx context.Context, local model.Entity) error {
	payload, err := r.codec.Encode(local)
	if err != nil {
		return Error.Wrap(err)
	}
	_, err = r.queue.Enqueue(ctx, model.Operation{
		Kind:       model.OperationUpdate,
		EntityID:   local.ID(),
		EntityType: entityTypeOf(local),
		Payload:    payload,
		Priority:   model.PriorityNormal,
	})
	return err
}

// entityTypeOf has no dedicated accessor on model.Entity (the core treats
// entities as opaque besides id/modifiedAt/version/dirty), so conflict
// resolution carries the remote/local type via a type-asserted hook when
// the caller's Entity implementation provides one, falling back to the
// empty tag otherwise — callers needing a real type string should store it
// alongside the entity in their own EntityStore implementation.
func entityTypeOf(e model.Entity) string {
	if typed, ok := e.(interface{ EntityType() string }); ok {
		return typed.EntityType()
	}
	return ""
}
