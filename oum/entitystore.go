package oum

import (
	"context"

	"github.com/offlinefirst/synccore/model"
)

// EntityStore is the local keyed store OUM applies optimistic mutations
// against, per spec section 4.D's "insert/replace/remove" application
// rules. It is distinct from ecstore.Store's public contract: ECS hands
// back a generated id from put, while OUM must read and write by the
// caller-assigned entityId (see DESIGN.md).
type EntityStore interface {
	Get(ctx context.Context, entityID string) (model.Entity, error)
	Put(ctx context.Context, entityType string, e model.Entity) error
	Delete(ctx context.Context, entityID string) error
}
