package model

import (
	"time"

	"storj.io/common/uuid"
)

// OperationKind is the kind of remote mutation an Operation represents.
type OperationKind string

// Operation kinds, per spec section 3.
const (
	OperationCreate   OperationKind = "create"
	OperationUpdate   OperationKind = "update"
	OperationDelete   OperationKind = "delete"
	OperationSync     OperationKind = "sync"
	OperationUpload   OperationKind = "upload"
	OperationDownload OperationKind = "download"
)

// Priority orders operations and transfer tasks; higher sorts first.
type Priority int

// Priority levels, per spec section 3. Ordered so that int comparison
// matches priority ordering (critical > high > normal > low).
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// OperationStatus is the lifecycle state of a retry-queue Operation.
type OperationStatus string

// Operation statuses, per spec section 3.
const (
	StatusPending    OperationStatus = "pending"
	StatusInProgress OperationStatus = "inProgress"
	StatusRetrying   OperationStatus = "retrying"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
	StatusCancelled  OperationStatus = "cancelled"
)

// Terminal reports whether no further transitions are permitted from s, per
// the invariant "once status = completed or cancelled, no further
// transitions".
func (s OperationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Operation is a durable record of a pending mutation, persisted by the
// retry queue and executed at most-once-at-a-time, at-least-once overall.
type Operation struct {
	OpID        uuid.UUID         `json:"opId"`
	Kind        OperationKind     `json:"kind"`
	EntityID    string            `json:"entityId"`
	EntityType  string            `json:"entityType"`
	Payload     []byte            `json:"payload"`
	Priority    Priority          `json:"priority"`
	CreatedAt   time.Time         `json:"createdAt"`
	RetryCount  int               `json:"retryCount"`
	LastAttempt *time.Time        `json:"lastAttempt,omitempty"`
	NextRetry   *time.Time        `json:"nextRetry,omitempty"`
	Status      OperationStatus   `json:"status"`
	LastError   *string           `json:"lastError,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	// Checksum is a CRC32C (Castagnoli) checksum of Payload, carried so a
	// restart can detect a partially-written RetryQueue.json independent
	// of the atomic-rename guarantee.
	Checksum uint32 `json:"checksum"`
}

// Validate reports whether op satisfies the spec section 3 invariants that
// can be checked on a single record in isolation.
func (op *Operation) Validate(maxRetries int) error {
	if op.RetryCount < 0 || op.RetryCount > maxRetries {
		return Error.New("operation %s: retryCount %d out of range [0, %d]", op.OpID, op.RetryCount, maxRetries)
	}
	if op.Status == StatusInProgress && op.LastAttempt == nil {
		return Error.New("operation %s: status inProgress requires lastAttempt", op.OpID)
	}
	if (op.Status == StatusPending || op.Status == StatusRetrying) && op.NextRetry == nil {
		return Error.New("operation %s: status %s requires nextRetry", op.OpID, op.Status)
	}
	return nil
}

// Less reports whether op sorts before other in the in-memory vector:
// priority descending, then createdAt ascending.
func (op *Operation) Less(other *Operation) bool {
	if op.Priority != other.Priority {
		return op.Priority > other.Priority
	}
	return op.CreatedAt.Before(other.CreatedAt)
}

// Eligible reports whether op is a candidate for immediate execution: it is
// pending or retrying, and its nextRetry (if any) has elapsed by now.
func (op *Operation) Eligible(now time.Time) bool {
	if op.Status != StatusPending && op.Status != StatusRetrying {
		return false
	}
	if op.NextRetry == nil {
		return true
	}
	return !op.NextRetry.After(now)
}
