package pairing

import (
	"sync"

	"github.com/google/uuid"
)

// pairLocks serializes mutating operations per pair within this process.
// Cross-instance serialization is handled by the pair repo's advisory locks.
type pairLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*pairLock
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

func newPairLocks() *pairLocks {
	return &pairLocks{locks: make(map[uuid.UUID]*pairLock)}
}

// acquire blocks until the pair's lock is held and returns the release func.
// Entries are reference counted and removed when unused, so the map does not
// grow with the number of pairs ever touched.
func (l *pairLocks) acquire(id uuid.UUID) func() {
	l.mu.Lock()
	pl, ok := l.locks[id]
	if !ok {
		pl = &pairLock{}
		l.locks[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
