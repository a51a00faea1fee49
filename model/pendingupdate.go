package model

import (
	"time"

	"storj.io/common/uuid"
)

// UpdateOp is the kind of local mutation an optimistic update represents.
// A subset of OperationKind: the OUM never creates sync/upload/download
// pending updates directly.
type UpdateOp string

// UpdateOp values, per spec section 3.
const (
	UpdateCreate UpdateOp = "create"
	UpdateUpdate UpdateOp = "update"
	UpdateDelete UpdateOp = "delete"
)

// UpdateStatus is the lifecycle state of a PendingUpdate.
type UpdateStatus string

// UpdateStatus values, per spec section 3.
const (
	UpdatePending    UpdateStatus = "pending"
	UpdateSyncing    UpdateStatus = "syncing"
	UpdateConfirmed  UpdateStatus = "confirmed"
	UpdateFailed     UpdateStatus = "failed"
	UpdateRolledBack UpdateStatus = "rolledBack"
)

// PendingUpdate is OUM's rollback record for one optimistically-applied
// entity mutation.
type PendingUpdate struct {
	UpdateID       uuid.UUID    `json:"updateId"`
	EntityID       string       `json:"entityId"`
	EntityType     string       `json:"entityType"`
	Op             UpdateOp     `json:"op"`
	OriginalValue  []byte       `json:"originalValue,omitempty"`
	OptimisticValue []byte      `json:"optimisticValue"`
	Status         UpdateStatus `json:"status"`
	DeadlineAt     time.Time    `json:"deadlineAt"`
	LastError      *string      `json:"lastError,omitempty"`
}

// Validate checks the invariant: for op in {update, delete}, originalValue
// must be present; for op = create, it must be absent.
func (p *PendingUpdate) Validate() error {
	switch p.Op {
	case UpdateUpdate, UpdateDelete:
		if p.OriginalValue == nil {
			return Error.New("pending update %s: op %s requires originalValue", p.UpdateID, p.Op)
		}
	case UpdateCreate:
		if p.OriginalValue != nil {
			return Error.New("pending update %s: op create must not carry originalValue", p.UpdateID)
		}
	default:
		return Error.New("pending update %s: unknown op %q", p.UpdateID, p.Op)
	}
	return nil
}
