package tour

import (
	"context"
	"sync"
)

// NodeLocker serializes mutating operations per panorama node. Acquire blocks
// until the node's lock is held or the context ends; the returned release
// func must be called exactly once.
type NodeLocker interface {
	Acquire(ctx context.Context, nodeID string) (release func(), err error)
}

type nodeLock struct {
	ch   chan struct{}
	refs int
}

// LocalLocker serializes per node within a single process using reference
// counted channel locks, so entries for idle nodes do not accumulate.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*nodeLock
}

// NewLocalLocker constructs an in-process NodeLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*nodeLock)}
}

// Acquire takes the lock for the given node id, waiting for the current
// holder if necessary.
func (l *LocalLocker) Acquire(ctx context.Context, nodeID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[nodeID]
	if !ok {
		entry = &nodeLock{ch: make(chan struct{}, 1)}
		l.locks[nodeID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.put(nodeID, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-entry.ch
			l.put(nodeID, entry)
		})
	}
	return release, nil
}

func (l *LocalLocker) put(nodeID string, entry *nodeLock) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, nodeID)
	}
	l.mu.Unlock()
}
