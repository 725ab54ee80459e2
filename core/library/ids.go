package library

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// newEntityID builds an id namespaced by the owning user and the creation
// instant, with a random suffix so concurrent creations in the same
// millisecond never collide. The shape matches the metadata key scheme:
// "{userId}_{unixMilli}_{suffix}".
func newEntityID(userID int64, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d_%d_%s", userID, now.UnixMilli(), suffix)
}

// userLocks serializes index mutations per user. The per-user indexes are
// read-modify-write documents; without this, two concurrent writers can
// clobber each other's update.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[int64]*sync.Mutex)}
}

// lock acquires the mutex for a user and returns its unlock function.
func (l *userLocks) lock(userID int64) func() {
	l.mu.Lock()
	m, exists := l.locks[userID]
	if !exists {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
