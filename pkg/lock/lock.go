package lock

import (
	"context"
	"sync"
	"time"
)

// Locker hands out short-lived exclusive leases on a key. ok is false
// when another holder owns the key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	mu      sync.Mutex
	holders map[string]time.Time
	now     func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		holders: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expires, held := l.holders[key]; held && now.Before(expires) {
		return nil, false, nil
	}
	expires := now.Add(ttl)
	l.holders[key] = expires

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// A lease that expired and was taken over belongs to someone else.
			if l.holders[key].Equal(expires) {
				delete(l.holders, key)
			}
		})
	}
	return release, true, nil
}
