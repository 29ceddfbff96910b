package auth

import (
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter keyed by principal id. Each bucket
// starts full and refills one token per interval, so short bursts up to the
// per-minute budget pass and sustained overload is shed evenly.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity int
	refill   time.Duration

	// now is swappable for tests.
	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter allows perMinute requests per key. perMinute <= 0 disables
// limiting entirely.
func NewRateLimiter(perMinute int) *RateLimiter {
	l := &RateLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if perMinute > 0 {
		l.capacity = perMinute
		l.refill = time.Minute / time.Duration(perMinute)
		go l.cleanup()
	}
	return l
}

// Allow consumes one token for the key. When denied it also reports how
// long until a token is available, for the Retry-After header.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	if l.capacity == 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastRefill); elapsed >= l.refill {
		add := int(elapsed / l.refill)
		b.tokens += add
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.lastRefill = b.lastRefill.Add(time.Duration(add) * l.refill)
	}

	if b.tokens > 0 {
		b.tokens--
		return true, 0
	}
	retry := b.lastRefill.Add(l.refill).Sub(now)
	if retry < 0 {
		retry = 0
	}
	return false, retry
}

// Stop ends the background cleanup. Safe to call more than once.
func (l *RateLimiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// cleanup drops buckets idle long enough to have refilled completely; they
// are indistinguishable from fresh ones.
func (l *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			idle := time.Duration(l.capacity) * l.refill
			for key, b := range l.buckets {
				if now.Sub(b.lastRefill) > idle {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
