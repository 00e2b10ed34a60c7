package service

import "sync"

// RequestLocker serializes operations per request ID. Cross-request operations
// stay concurrent; two writers on the same request never interleave between
// read and commit.
type RequestLocker struct {
	mu    sync.Mutex
	locks map[string]*requestLock
}

type requestLock struct {
	mu   sync.Mutex
	refs int
}

// NewRequestLocker creates an empty locker.
func NewRequestLocker() *RequestLocker {
	return &RequestLocker{locks: make(map[string]*requestLock)}
}

// Lock acquires the lock for a request ID and returns its release func.
// Entries are reference counted and removed once unused, so the map does not
// grow with the number of requests ever seen.
func (l *RequestLocker) Lock(requestID string) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.locks[requestID]
	if !ok {
		entry = &requestLock{}
		l.locks[requestID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, requestID)
		}
		l.mu.Unlock()
	}
}
