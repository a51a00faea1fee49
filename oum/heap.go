package oum

import (
	"container/heap"
	"time"

	"storj.io/common/uuid"
)

// deadlineEntry is one pending update's rollback deadline.
type deadlineEntry struct {
	updateID uuid.UUID
	deadline time.Time
	index    int
}

// deadlineHeap is a min-heap of deadlineEntry ordered by deadline, per the
// Design Notes' "single priority-queue of deadlines driven by one timer
// task" guidance (spec section 9) rather than one timer per update.
type deadlineHeap []*deadlineEntry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *deadlineHeap) Push(x interface{}) {
	entry := x.(*deadlineEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

// deadlineQueue wraps deadlineHeap with id-keyed lookup for removal.
type deadlineQueue struct {
	h       deadlineHeap
	byID    map[uuid.UUID]*deadlineEntry
}

func newDeadlineQueue() *deadlineQueue {
	return &deadlineQueue{byID: make(map[uuid.UUID]*deadlineEntry)}
}

func (q *deadlineQueue) add(id uuid.UUID, deadline time.Time) {
	entry := &deadlineEntry{updateID: id, deadline: deadline}
	q.byID[id] = entry
	heap.Push(&q.h, entry)
}

// remove clears id's deadline, if present, so an already-confirmed update
// never fires a stale rollback.
func (q *deadlineQueue) remove(id uuid.UUID) {
	entry, ok := q.byID[id]
	if !ok {
		return
	}
	delete(q.byID, id)
	heap.Remove(&q.h, entry.index)
}

// peek returns the earliest deadline without removing it.
func (q *deadlineQueue) peek() (uuid.UUID, time.Time, bool) {
	if q.h.Len() == 0 {
		return uuid.UUID{}, time.Time{}, false
	}
	top := q.h[0]
	return top.updateID, top.deadline, true
}

// popExpired removes and returns every deadline entry at or before now.
func (q *deadlineQueue) popExpired(now time.Time) []uuid.UUID {
	var expired []uuid.UUID
	for q.h.Len() > 0 && !q.h[0].deadline.After(now) {
		entry := heap.Pop(&q.h).(*deadlineEntry)
		delete(q.byID, entry.updateID)
		expired = append(expired, entry.updateID)
	}
	return expired
}
