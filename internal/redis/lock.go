package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("slot lock not acquired")
)

// Locker serializes mutations per slot. WithSlotLocks takes every lock in
// ascending id order so two multi-slot operations cannot deadlock.
type Locker interface {
	WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error
	WithSlotLocks(ctx context.Context, slotIDs []uuid.UUID, fn func(ctx context.Context) error) error
}

const lockRetryInterval = 20 * time.Millisecond

type redisSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisSlotLocker creates a locker that uses a per slot Redis key. A busy
// slot is retried for up to wait before ErrLockNotAcquired is returned.
func NewRedisSlotLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisSlotLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func (l *redisSlotLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	return l.WithSlotLocks(ctx, []uuid.UUID{slotID}, fn)
}

func (l *redisSlotLocker) WithSlotLocks(ctx context.Context, slotIDs []uuid.UUID, fn func(ctx context.Context) error) error {
	ids := sortedUnique(slotIDs)
	token := uuid.NewString()

	var held []string
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			_ = l.release(context.WithoutCancel(ctx), held[i], token)
		}
	}()

	for _, id := range ids {
		key := slotLockKey(id)
		if err := l.acquire(ctx, key, token); err != nil {
			return err
		}
		held = append(held, key)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisSlotLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire slot lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ErrLockNotAcquired
		case <-time.After(lockRetryInterval):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisSlotLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}

func slotLockKey(slotID uuid.UUID) string {
	return fmt.Sprintf("lock:slot:%s", slotID.String())
}

func sortedUnique(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}
