package usecase

import "sync"

// entityLocks serializes read-modify-write sequences per entity within a
// single process. Cross-process writers are still ordered by the chain tip
// compare-and-swap in the repository.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *entityLocks) lock(entityID string) func() {
	l.mu.Lock()
	m, ok := l.locks[entityID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[entityID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
