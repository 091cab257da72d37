package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisSlotLockerReleasesKeyAfterRun(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisSlotLocker(client, time.Second, 0)
	slotID := uuid.New()

	ran := false
	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		ran = true
		if !mr.Exists(slotLockKey(slotID)) {
			t.Fatalf("expected lock key to exist inside the critical section")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with slot lock: %v", err)
	}
	if !ran {
		t.Fatalf("expected critical section to run")
	}
	if mr.Exists(slotLockKey(slotID)) {
		t.Fatalf("expected lock key to be released")
	}
}

func TestRedisSlotLockerBusySlot(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisSlotLocker(client, time.Second, 50*time.Millisecond)
	slotID := uuid.New()

	if err := mr.Set(slotLockKey(slotID), "someone-else"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		t.Fatalf("critical section must not run while another holder owns the slot")
		return nil
	})
	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}

	got, _ := mr.Get(slotLockKey(slotID))
	if got != "someone-else" {
		t.Fatalf("foreign lock must be left untouched, got %q", got)
	}
}

func TestRedisSlotLockerReleasesAllOnPartialAcquire(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisSlotLocker(client, time.Second, 0)

	ids := sortedUnique([]uuid.UUID{uuid.New(), uuid.New()})
	if err := mr.Set(slotLockKey(ids[1]), "someone-else"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	err := locker.WithSlotLocks(context.Background(), ids, func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}
	if mr.Exists(slotLockKey(ids[0])) {
		t.Fatalf("expected first lock to be released after failing on the second")
	}
}

func TestRedisSlotLockerPropagatesCallbackError(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewRedisSlotLocker(client, time.Second, 0)
	boom := errors.New("boom")

	err := locker.WithSlotLock(context.Background(), uuid.New(), func(ctx context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestLocalSlotLockerSerializesSameSlot(t *testing.T) {
	locker := NewLocalSlotLocker(0)
	slotID := uuid.New()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("expected at most one holder at a time, saw %d", maxInside)
	}
}

func TestLocalSlotLockerTimesOut(t *testing.T) {
	locker := NewLocalSlotLocker(20 * time.Millisecond)
	slotID := uuid.New()

	release := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		_ = locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired

	err := locker.WithSlotLocks(context.Background(), []uuid.UUID{uuid.New(), slotID}, func(ctx context.Context) error {
		t.Fatalf("critical section must not run")
		return nil
	})
	close(release)

	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}
}
