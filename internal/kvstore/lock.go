package kvstore

import (
	"context"
	"sync"
	"time"
)

// DefaultLockTimeout bounds how long WithLock waits for a busy key.
const DefaultLockTimeout = 10 * time.Second

type keyLock struct {
	ch   chan struct{}
	refs int
}

// lockTable hands out one exclusive lock per key. Entries are reference
// counted and dropped once no caller holds or waits on them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*keyLock)}
}

func (t *lockTable) ref(key string) *keyLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		t.locks[key] = l
	}
	l.refs++
	return l
}

func (t *lockTable) unref(key string, l *keyLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}

// acquire blocks until the key is free, ctx is done, or timeout elapses.
// The returned func releases the lock.
func (t *lockTable) acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	l := t.ref(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			t.unref(key, l)
		}, nil
	case <-timer.C:
		t.unref(key, l)
		return nil, ErrStorageBusy
	case <-ctx.Done():
		t.unref(key, l)
		return nil, ctx.Err()
	}
}

// size reports the number of live lock entries.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
