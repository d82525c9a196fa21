// Package security provides request rate limiting for the gateway transports.
package security

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether a keyed request may proceed.
type RateLimiter interface {
	// Allow checks if a single request for key should be allowed.
	Allow(key string) bool

	// AllowN checks if n requests for key should be allowed.
	AllowN(key string, n int) bool

	// Reset forgets the state of key.
	Reset(key string)

	// Close releases background resources.
	Close()
}

// RateLimiterConfig configures a BucketLimiter.
type RateLimiterConfig struct {
	// Rate is the number of requests allowed per Interval.
	Rate int

	// Interval is the window Rate applies to.
	Interval time.Duration

	// Burst is the bucket capacity. Values below 1 default to Rate.
	Burst int

	// CleanupInterval is how often idle keys are forgotten. 0 disables cleanup.
	CleanupInterval time.Duration
}

// ClientKey derives the rate limiting key from a remote address, keeping
// only the host so every connection from one client shares a budget.
func ClientKey(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// BucketLimiter keeps one token bucket per key.
type BucketLimiter struct {
	freq    rate.Limit
	burst   int
	cleanup time.Duration
	now     func() time.Time

	bucketMu sync.Mutex // protects the following
	buckets  map[string]*bucket

	done chan struct{}
	once sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewBucketLimiter creates a keyed token bucket limiter refilling Rate
// tokens every Interval.
func NewBucketLimiter(cfg RateLimiterConfig) *BucketLimiter {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Burst < 1 {
		cfg.Burst = cfg.Rate
	}
	freq := rate.Inf
	if cfg.Rate > 0 {
		freq = rate.Every(cfg.Interval / time.Duration(cfg.Rate))
	}

	b := &BucketLimiter{
		freq:    freq,
		burst:   cfg.Burst,
		cleanup: cfg.CleanupInterval,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	if b.cleanup > 0 {
		go b.cleanupLoop()
	}
	return b
}

// Allow checks if a single request should be allowed.
func (b *BucketLimiter) Allow(key string) bool {
	return b.AllowN(key, 1)
}

// AllowN checks if n requests should be allowed.
func (b *BucketLimiter) AllowN(key string, n int) bool {
	now := b.now()
	return b.bucket(key, now).AllowN(now, n)
}

func (b *BucketLimiter) bucket(key string, now time.Time) *rate.Limiter {
	b.bucketMu.Lock()
	defer b.bucketMu.Unlock()

	bk, ok := b.buckets[key]
	if !ok {
		bk = &bucket{limiter: rate.NewLimiter(b.freq, b.burst)}
		b.buckets[key] = bk
	}
	bk.lastSeen = now
	return bk.limiter
}

// Reset resets the rate limit for a key.
func (b *BucketLimiter) Reset(key string) {
	b.bucketMu.Lock()
	defer b.bucketMu.Unlock()
	delete(b.buckets, key)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (b *BucketLimiter) Close() {
	b.once.Do(func() { close(b.done) })
}

func (b *BucketLimiter) cleanupLoop() {
	ticker := time.NewTicker(b.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.cleanupStale()
		case <-b.done:
			return
		}
	}
}

// cleanupStale removes idle buckets that have refilled completely.
func (b *BucketLimiter) cleanupStale() {
	b.bucketMu.Lock()
	defer b.bucketMu.Unlock()

	now := b.now()
	for key, bk := range b.buckets {
		if now.Sub(bk.lastSeen) > b.cleanup && bk.limiter.TokensAt(now) >= float64(b.burst) {
			delete(b.buckets, key)
		}
	}
}

// Size returns the number of tracked keys.
func (b *BucketLimiter) Size() int {
	b.bucketMu.Lock()
	defer b.bucketMu.Unlock()
	return len(b.buckets)
}

var _ RateLimiter = (*BucketLimiter)(nil)
