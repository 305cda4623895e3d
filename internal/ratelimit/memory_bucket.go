package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryTokenBucket applies the same refill rules as RedisTokenBucket inside
// one process. It suits a single API instance.
type MemoryTokenBucket struct {
	mu       sync.Mutex
	capacity float64
	windowMS float64
	ttl      time.Duration
	buckets  map[string]*bucket
	now      func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// sweepThreshold bounds how many idle subjects accumulate before a sweep.
const sweepThreshold = 4096

func NewMemoryTokenBucket(capacity int, window time.Duration) (*MemoryTokenBucket, error) {
	if err := validate(capacity, window); err != nil {
		return nil, err
	}
	return &MemoryTokenBucket{
		capacity: float64(capacity),
		windowMS: float64(windowMillis(window)),
		ttl:      2 * window,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}, nil
}

func (l *MemoryTokenBucket) Allow(ctx context.Context, subject string, cost int64) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	subject = normalizeSubject(subject)
	requested := float64(clampCost(cost, int64(l.capacity)))

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[subject]
	if !ok {
		if len(l.buckets) >= sweepThreshold {
			l.sweep(now)
		}
		b = &bucket{tokens: l.capacity, last: now}
		l.buckets[subject] = b
	}

	elapsed := float64(now.Sub(b.last).Milliseconds())
	var d Decision
	b.tokens, d = spend(b.tokens, elapsed, requested, l.capacity, l.windowMS)
	b.last = now
	return d, nil
}

// Len reports how many subjects hold a bucket.
func (l *MemoryTokenBucket) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *MemoryTokenBucket) sweep(now time.Time) {
	for subject, b := range l.buckets {
		if now.Sub(b.last) > l.ttl {
			delete(l.buckets, subject)
		}
	}
}
