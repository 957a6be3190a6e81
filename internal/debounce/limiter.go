// ABOUTME: Thread-safe per-key minimum-interval limiter with a size bound.
// ABOUTME: Throttles stream re-attach attempts so a flapping client cannot churn a plan.

package debounce

import (
	"container/list"
	"sync"
	"time"
)

// limiterEntry stores the last allowed time and list element for a key.
type limiterEntry struct {
	allowedAt time.Time
	element   *list.Element
}

// Limiter enforces a minimum interval between allowed actions per key.
// Denied attempts do not refresh the interval, so a client retrying faster
// than the interval still gets through once per interval. A doubly-linked
// list maintains insertion order for O(1) eviction at capacity.
type Limiter struct {
	mu       sync.Mutex
	last     map[string]*limiterEntry
	order    *list.List // keys in last-allowed order, oldest at front
	interval time.Duration
	maxKeys  int
	done     chan struct{}
	closed   bool
}

// New creates a limiter with the given minimum interval and key capacity.
// A background goroutine periodically drops stale entries.
func New(interval time.Duration, maxKeys int) *Limiter {
	l := &Limiter{
		last:     make(map[string]*limiterEntry),
		order:    list.New(),
		interval: interval,
		maxKeys:  maxKeys,
		done:     make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether an action for key may proceed now, and if so marks
// the key. A denied call leaves the previous mark untouched.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if entry, ok := l.last[key]; ok && now.Sub(entry.allowedAt) < l.interval {
		return false
	}

	l.markLocked(key, now)
	return true
}

// markLocked records an allowed action. Must be called with mu held.
func (l *Limiter) markLocked(key string, now time.Time) {
	if entry, exists := l.last[key]; exists {
		entry.allowedAt = now
		l.order.MoveToBack(entry.element)
		return
	}

	if len(l.last) >= l.maxKeys {
		l.evictOldest()
	}

	elem := l.order.PushBack(key)
	l.last[key] = &limiterEntry{allowedAt: now, element: elem}
}

// evictOldest removes the stalest entry. Must be called with mu held.
func (l *Limiter) evictOldest() {
	front := l.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	l.order.Remove(front)
	delete(l.last, key)
}

// cleanup periodically drops entries older than the interval. They would
// be allowed anyway; this just bounds the map between evictions.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.runCleanup()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) runCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, entry := range l.last {
		if now.Sub(entry.allowedAt) > l.interval {
			l.order.Remove(entry.element)
			delete(l.last, key)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
}
