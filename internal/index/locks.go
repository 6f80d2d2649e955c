package index

import (
	"context"
	"sync"
)

// lockTable hands out one mutex per document id. Entries are reference counted and
// dropped once no caller holds or waits for them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	ch   chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*docLock)}
}

// lock blocks until the lock for id is held or ctx is done. The returned func releases it.
func (t *lockTable) lock(ctx context.Context, id string) (func(), error) {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &docLock{ch: make(chan struct{}, 1)}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			t.unref(id, l)
		}, nil
	case <-ctx.Done():
		t.unref(id, l)
		return nil, ctx.Err()
	}
}

func (t *lockTable) unref(id string, l *docLock) {
	t.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, id)
	}
	t.mu.Unlock()
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
