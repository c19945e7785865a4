package accrual

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultLockPrefix = "chargemint:wallet:accrual:"

// Lock claims a sweep date so only one replica runs it.
type Lock interface {
	Acquire(ctx context.Context, runDate string, ttl time.Duration) (bool, error)
}

type RedisLock struct {
	client redis.Cmdable
	prefix string
}

func NewRedisLock(client redis.Cmdable, prefix string) *RedisLock {
	if prefix == "" {
		prefix = defaultLockPrefix
	}
	return &RedisLock{client: client, prefix: prefix}
}

func (l *RedisLock) Acquire(ctx context.Context, runDate string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.prefix+runDate, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

type MemoryLock struct {
	mu      sync.Mutex
	claimed map[string]time.Time
	now     func() time.Time
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{claimed: map[string]time.Time{}, now: time.Now}
}

func (l *MemoryLock) Acquire(_ context.Context, runDate string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expires, ok := l.claimed[runDate]; ok && (ttl <= 0 || now.Before(expires)) {
		return false, nil
	}
	l.claimed[runDate] = now.Add(ttl)
	return true, nil
}
