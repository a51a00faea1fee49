package model

import (
	"time"

	"storj.io/common/uuid"
)

// TransferKind is the kind of bandwidth-managed transfer.
type TransferKind string

// TransferKind values, per spec section 3.
const (
	TransferUpload   TransferKind = "upload"
	TransferDownload TransferKind = "download"
	TransferSync     TransferKind = "sync"
)

// TransferStatus is the lifecycle state of a TransferTask.
type TransferStatus string

// TransferStatus values, per spec section 3.
const (
	TransferPending   TransferStatus = "pending"
	TransferQueued    TransferStatus = "queued"
	TransferActive    TransferStatus = "active"
	TransferPaused    TransferStatus = "paused"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
	TransferCancelled TransferStatus = "cancelled"
)

// Terminal reports whether no further transitions are permitted from s.
func (s TransferStatus) Terminal() bool {
	return s == TransferCompleted || s == TransferCancelled || s == TransferFailed
}

// TransferTask is a bandwidth-managed upload/download/sync unit.
type TransferTask struct {
	TaskID           uuid.UUID      `json:"taskId"`
	Type             TransferKind   `json:"type"`
	Size             int64          `json:"size"`
	Priority         Priority       `json:"priority"`
	CreatedAt        time.Time      `json:"createdAt"`
	StartedAt        *time.Time     `json:"startedAt,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	TransferredBytes int64          `json:"transferredBytes"`
	Status           TransferStatus `json:"status"`
	LastError        *string        `json:"lastError,omitempty"`
}

// Progress returns transferredBytes / size, or 0 if size is non-positive.
func (t *TransferTask) Progress() float64 {
	if t.Size <= 0 {
		return 0
	}
	return float64(t.TransferredBytes) / float64(t.Size)
}

// Throughput returns transferredBytes / elapsed seconds since startedAt,
// using completedAt if set, otherwise now. Returns 0 if the task has not
// started or no time has elapsed.
func (t *TransferTask) Throughput(now time.Time) float64 {
	if t.StartedAt == nil {
		return 0
	}
	end := now
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	elapsed := end.Sub(*t.StartedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.TransferredBytes) / elapsed
}
