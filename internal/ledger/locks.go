package ledger

import (
	"context"
	"sync"
)

// userLocks serializes trades per username. Entries are reference counted
// so the map only holds users with a trade in flight.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sem  chan struct{}
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// acquire blocks until the caller holds key or ctx is done.
func (l *userLocks) acquire(ctx context.Context, key string) (release func(), err error) {
	l.mu.Lock()
	ul, ok := l.locks[key]
	if !ok {
		ul = &userLock{sem: make(chan struct{}, 1)}
		l.locks[key] = ul
	}
	ul.refs++
	l.mu.Unlock()

	select {
	case ul.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-ul.sem
				l.drop(key, ul)
			})
		}, nil
	case <-ctx.Done():
		l.drop(key, ul)
		return nil, ctx.Err()
	}
}

func (l *userLocks) drop(key string, ul *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
