package service

import "sync"

// submissionLocks hands out one mutex per submission so ledger applies of the
// same submission run one at a time inside this process. Entries are dropped
// once no caller holds or waits for them.
type submissionLocks struct {
	mu    sync.Mutex
	locks map[uint]*submissionLock
}

type submissionLock struct {
	mu   sync.Mutex
	refs int
}

func newSubmissionLocks() *submissionLocks {
	return &submissionLocks{locks: make(map[uint]*submissionLock)}
}

func (l *submissionLocks) lock(id uint) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &submissionLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *submissionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
