package redisclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// localSlotLocker serializes slots inside one process. Used when the service
// runs as a single instance without Redis and by tests.
type localSlotLocker struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*slotSemaphore
	wait  time.Duration
}

type slotSemaphore struct {
	ch   chan struct{}
	refs int
}

// NewLocalSlotLocker returns an in-process Locker. A wait of zero blocks until
// the slot is free or ctx is done.
func NewLocalSlotLocker(wait time.Duration) Locker {
	return &localSlotLocker{
		slots: make(map[uuid.UUID]*slotSemaphore),
		wait:  wait,
	}
}

func (l *localSlotLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	return l.WithSlotLocks(ctx, []uuid.UUID{slotID}, fn)
}

func (l *localSlotLocker) WithSlotLocks(ctx context.Context, slotIDs []uuid.UUID, fn func(ctx context.Context) error) error {
	ids := sortedUnique(slotIDs)

	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	var held []uuid.UUID
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
	}()

	for _, id := range ids {
		sem := l.ref(id)
		select {
		case sem.ch <- struct{}{}:
			held = append(held, id)
		case <-waitCtx.Done():
			l.unref(id)
			return ErrLockNotAcquired
		}
	}

	return fn(ctx)
}

func (l *localSlotLocker) ref(id uuid.UUID) *slotSemaphore {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.slots[id]
	if !ok {
		sem = &slotSemaphore{ch: make(chan struct{}, 1)}
		l.slots[id] = sem
	}
	sem.refs++
	return sem
}

func (l *localSlotLocker) unref(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.slots[id]
	if !ok {
		return
	}
	sem.refs--
	if sem.refs == 0 {
		delete(l.slots, id)
	}
}

func (l *localSlotLocker) release(id uuid.UUID) {
	l.mu.Lock()
	sem := l.slots[id]
	l.mu.Unlock()
	if sem != nil {
		<-sem.ch
	}
	l.unref(id)
}
