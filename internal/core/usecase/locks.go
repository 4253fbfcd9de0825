package usecase

import "sync"

// claimLocks serializes extraction runs per claim id so overlapping
// ingest/reprocess calls cannot interleave attempt bookkeeping.
type claimLocks struct {
	mu    sync.Mutex
	entry map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newClaimLocks() *claimLocks {
	return &claimLocks{entry: make(map[string]*lockEntry)}
}

// acquire blocks until the per-id lock is held and returns the release func.
func (l *claimLocks) acquire(id string) func() {
	l.mu.Lock()
	e, ok := l.entry[id]
	if !ok {
		e = &lockEntry{}
		l.entry[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entry, id)
		}
		l.mu.Unlock()
	}
}
