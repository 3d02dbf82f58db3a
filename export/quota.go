package export

import (
	"sync"
	"time"
)

const rateBucketPruneThreshold = 1024

// RateLimiter enforces a fixed-window limit per key in memory.
type RateLimiter struct {
	Max    int
	Window time.Duration
	Now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*rateBucket
}

type rateBucket struct {
	count   int
	resetAt time.Time
}

// Allow counts one invocation for key. An empty key or an unconfigured
// limiter always allows.
func (l *RateLimiter) Allow(key string) error {
	if l == nil || l.Max <= 0 || l.Window <= 0 || key == "" {
		return nil
	}

	now := time.Now
	if l.Now != nil {
		now = l.Now
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.buckets == nil {
		l.buckets = make(map[string]*rateBucket)
	}

	current := now()
	if len(l.buckets) > rateBucketPruneThreshold {
		for k, b := range l.buckets {
			if current.After(b.resetAt) {
				delete(l.buckets, k)
			}
		}
	}

	bucket := l.buckets[key]
	if bucket == nil || current.After(bucket.resetAt) {
		bucket = &rateBucket{resetAt: current.Add(l.Window)}
		l.buckets[key] = bucket
	}

	bucket.count++
	if bucket.count > l.Max {
		return NewError(KindRateLimited, "export rate limit exceeded", nil)
	}
	return nil
}
