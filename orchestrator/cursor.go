package orchestrator

import (
	"os"
	"strconv"
	"sync"

	"github.com/offlinefirst/synccore/model"
)

// cursorStore persists the orchestrator's "since" pull cursor to a flat
// file with the same create-temp-then-rename atomicity ecstore.Store uses
// for its own payloads, giving the pull driver (spec section 4.E, §4
// supplemental SyncCursor record) a durable restart point without needing
// a full ECS-backed index for a single scalar value.
type cursorStore struct {
	path string
	mu   sync.Mutex
	last string
}

func newCursorStore(path string) *cursorStore {
	s := &cursorStore{path: path}
	if path == "" {
		return s
	}
	if raw, err := os.ReadFile(path); err == nil {
		s.last = string(raw)
	}
	return s
}

// get returns the last-persisted cursor, or "" before the first pull.
func (s *cursorStore) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// advance persists next as the new cursor, if it differs from the current one.
func (s *cursorStore) advance(next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next == s.last || next == "" {
		return nil
	}
	s.last = next
	if s.path == "" {
		return nil
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(next), 0600); err != nil {
		return model.StorageIO(Error.Wrap(err))
	}
	return os.Rename(tmp, s.path)
}

// cursorFromChanges advances since to the highest entity version observed
// across created/updated changes in this pull, leaving since untouched if
// the batch carried no versioned entity (a deletion-only batch, or none).
func cursorFromChanges(changes []model.Change, since string) string {
	highest, ok := parseCursor(since)
	for _, change := range changes {
		if v, found := versionOf(change.Created); found && (!ok || v > highest) {
			highest, ok = v, true
		}
		if v, found := versionOf(change.Updated); found && (!ok || v > highest) {
			highest, ok = v, true
		}
	}
	if !ok {
		return since
	}
	return strconv.Itoa(highest)
}

func versionOf(e model.Entity) (int, bool) {
	if e == nil {
		return 0, false
	}
	return e.Version(), true
}

func parseCursor(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
