package usecase

import (
	"context"
	"sync"

	"search-agent/internal/domain"
)

// identityLocks serializes operations per identity. Entries exist only while
// a holder or waiter references them.
type identityLocks struct {
	mu      sync.Mutex
	entries map[domain.Identity]*identityLock
}

type identityLock struct {
	sem  chan struct{}
	refs int
}

func newIdentityLocks() *identityLocks {
	return &identityLocks{entries: make(map[domain.Identity]*identityLock)}
}

// acquire blocks until the identity's lock is held or ctx is done. The
// returned release must be called exactly once.
func (l *identityLocks) acquire(ctx context.Context, id domain.Identity) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &identityLock{sem: make(chan struct{}, 1)}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(id, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(id, e)
		})
	}, nil
}

func (l *identityLocks) unref(id domain.Identity, e *identityLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
}

func (l *identityLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
