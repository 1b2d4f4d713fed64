// Package lock provides the per-detail mutual exclusion used by the resolution
// workflow: an in-process locker for single-node deployments and a Redis
// locker for multi-node ones.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
)

// MemoryLocker serializes holders of the same key within one process. The
// ttl is ignored: a lock is held until released.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		slots: make(map[string]*slot),
	}
}

// Obtain blocks until key is free or ctx is done
func (l *MemoryLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (port.Lock, error) {
	s := l.acquireSlot(key)

	select {
	case s.ch <- struct{}{}:
		return &memoryLock{locker: l, key: key, slot: s}, nil
	case <-ctx.Done():
		l.releaseSlot(key, s)
		return nil, ctx.Err()
	}
}

func (l *MemoryLocker) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *MemoryLocker) releaseSlot(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

type memoryLock struct {
	locker *MemoryLocker
	key    string
	slot   *slot
	once   sync.Once
}

// Release frees the key. Releasing twice is a no-op.
func (m *memoryLock) Release(ctx context.Context) error {
	m.once.Do(func() {
		<-m.slot.ch
		m.locker.releaseSlot(m.key, m.slot)
	})
	return nil
}

var _ port.Locker = (*MemoryLocker)(nil)
