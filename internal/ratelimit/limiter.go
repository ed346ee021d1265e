// Package ratelimit throttles plan generation per user with token buckets.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLimited is wrapped by every LimitedError.
var ErrLimited = errors.New("rate limit exceeded")

// LimitedError reports a rejected request and when to try again.
type LimitedError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("%s for %s: retry in %s", ErrLimited, e.Key, e.RetryAfter.Round(time.Millisecond))
}

func (e *LimitedError) Unwrap() error { return ErrLimited }

// Config configures a Limiter.
type Config struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// DefaultConfig allows 10 requests per second with bursts of 20.
func DefaultConfig() Config {
	return Config{Enabled: true, RequestsPerSecond: 10, Burst: 20}
}

func (c Config) withDefaults() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RequestsPerSecond * 2)
	}
	return c
}

// bucket is a token bucket. Callers hold the limiter's lock.
type bucket struct {
	tokens   float64
	last     time.Time
	capacity float64
	rate     float64
}

func (b *bucket) refill(now time.Time) {
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now
}

func (b *bucket) wait() time.Duration {
	if b.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
}

// Limiter keeps one bucket per key.
type Limiter struct {
	mu      sync.Mutex
	config  Config
	buckets map[string]*bucket
	maxKeys int
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithNow sets the clock.
func WithNow(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithMaxKeys bounds the number of tracked keys before idle buckets are pruned.
func WithMaxKeys(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxKeys = n
		}
	}
}

// New creates a Limiter.
func New(config Config, opts ...Option) *Limiter {
	l := &Limiter{
		config:  config.withDefaults(),
		buckets: make(map[string]*bucket),
		maxKeys: 10000,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes a token for key and reports whether one was available.
func (l *Limiter) Allow(key string) bool {
	return l.Check(key) == nil
}

// Check consumes a token for key or returns a *LimitedError.
func (l *Limiter) Check(key string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketLocked(key)
	if b.tokens >= 1 {
		b.tokens--
		return nil
	}
	return &LimitedError{Key: key, RetryAfter: b.wait()}
}

// Remaining returns the tokens currently available to key.
func (l *Limiter) Remaining(key string) float64 {
	if l == nil {
		return 0
	}
	if !l.config.Enabled {
		return float64(l.config.Burst)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bucketLocked(key).tokens
}

// Reset forgets key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

func (l *Limiter) bucketLocked(key string) *bucket {
	now := l.now()
	if b, ok := l.buckets[key]; ok {
		b.refill(now)
		return b
	}
	if len(l.buckets) >= l.maxKeys {
		l.pruneLocked(now)
	}
	b := &bucket{
		tokens:   float64(l.config.Burst),
		last:     now,
		capacity: float64(l.config.Burst),
		rate:     l.config.RequestsPerSecond,
	}
	l.buckets[key] = b
	return b
}

// pruneLocked drops buckets that have refilled, which belong to idle keys.
func (l *Limiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		b.refill(now)
		if b.tokens >= b.capacity {
			delete(l.buckets, key)
		}
	}
}
