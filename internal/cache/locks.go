package cache

import (
	"sort"
	"sync"
	"time"
)

// LockInfo describes a held refresh lock.
type LockInfo struct {
	Key        string
	AcquiredAt time.Time
}

type lockRegistry struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func newLockRegistry(now func() time.Time) *lockRegistry {
	return &lockRegistry{held: make(map[string]time.Time), now: now}
}

// TryAcquireRefreshLock takes the refresh lock of key. It returns false when
// another refresh of key holds it.
func (e *Engine) TryAcquireRefreshLock(key string) bool {
	r := e.locks
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.held[key]; ok {
		return false
	}
	r.held[key] = r.now()
	e.metrics.Refreshes.Inc()
	return true
}

// ReleaseRefreshLock releases the refresh lock of key. Releasing a lock that
// is not held does nothing.
func (e *Engine) ReleaseRefreshLock(key string) {
	r := e.locks
	r.mu.Lock()
	delete(r.held, key)
	r.mu.Unlock()
}

// Locks lists the held refresh locks, oldest first. A lock that stays here
// for long points at a request that never completed.
func (e *Engine) Locks() []LockInfo {
	r := e.locks
	r.mu.Lock()
	out := make([]LockInfo, 0, len(r.held))
	for k, t := range r.held {
		out = append(out, LockInfo{Key: k, AcquiredAt: t})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AcquiredAt.Equal(out[j].AcquiredAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].AcquiredAt.Before(out[j].AcquiredAt)
	})
	return out
}
