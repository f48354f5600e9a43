package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// bucket is a single token bucket for one rule and key.
type bucket struct {
	tokens     float64
	lastAccess time.Time
}

// MemoryLimiter implements Limiter with an in-memory token bucket per key.
// A rule's bucket holds Limit tokens and refills at Limit per Window. A
// background goroutine evicts buckets idle for staleThreshold.
type MemoryLimiter struct {
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a token bucket limiter. Call Close to stop the
// eviction goroutine.
func NewMemoryLimiter() *MemoryLimiter {
	m := &MemoryLimiter{
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow consumes one token from the bucket of rule and key.
func (m *MemoryLimiter) Allow(_ context.Context, rule Rule, key string) Result {
	if !rule.Enabled() {
		return allowAll(rule)
	}
	burst := float64(rule.Limit)
	rate := burst / rule.Window.Seconds()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	id := rule.Prefix + ":" + key
	b, ok := m.buckets[id]
	if !ok {
		b = &bucket{tokens: burst, lastAccess: now}
		m.buckets[id] = b
	}

	b.tokens = math.Min(burst, b.tokens+now.Sub(b.lastAccess).Seconds()*rate)
	b.lastAccess = now

	allowed := b.tokens >= 1
	if allowed {
		b.tokens--
	}
	// ResetAt is when the next token is available.
	wait := time.Duration(math.Max(0, 1-b.tokens) / rate * float64(time.Second))
	return Result{
		Allowed:   allowed,
		Limit:     rule.Limit,
		Remaining: int(b.tokens),
		ResetAt:   now.Add(wait),
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const staleThreshold = 10 * time.Minute

// cleanup periodically evicts buckets that haven't been accessed recently.
func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-staleThreshold)
	for key, b := range m.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
