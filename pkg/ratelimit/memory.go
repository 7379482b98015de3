package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count       int
	windowStart time.Time
}

// MemoryLimiter is a process-local Limiter used when Redis is not
// configured. Counts reset when the window elapses; stale entries are swept
// opportunistically on access.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryLimiter creates an empty in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

var _ Limiter = (*MemoryLimiter)(nil)

func (l *MemoryLimiter) Allow(_ context.Context, action, userID string, budget int, window time.Duration) (Result, error) {
	key := action + ":" + userID
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now, window)

	entry, ok := l.entries[key]
	if !ok || now.Sub(entry.windowStart) >= window {
		entry = &memoryEntry{windowStart: now}
		l.entries[key] = entry
	}

	if entry.count >= budget {
		return Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: entry.windowStart.Add(window).Sub(now),
		}, nil
	}

	entry.count++
	return Result{Allowed: true, Remaining: budget - entry.count}, nil
}

// sweep drops entries whose window has long passed. Bounded by map size;
// called under the lock.
func (l *MemoryLimiter) sweep(now time.Time, window time.Duration) {
	if len(l.entries) < 1024 {
		return
	}
	for key, entry := range l.entries {
		if now.Sub(entry.windowStart) >= window {
			delete(l.entries, key)
		}
	}
}
