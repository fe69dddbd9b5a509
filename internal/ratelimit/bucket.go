// SPDX-License-Identifier: MIT

// Package ratelimit implements the per-domain adaptive outbound rate limiter.
// Each registrable domain owns a token bucket whose rate is steered by AIMD
// feedback: successes grow it multiplicatively (x1.1), throttles halve it,
// timeouts cut it by a quarter. The limiter is layered below the HTTP client
// as a RoundTripper, so every outbound request pays exactly one token.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/scrapecast/scrapecast/internal/metrics"
)

// ErrBucketTimeout is returned when a token could not be acquired before the
// request deadline.
var ErrBucketTimeout = errors.New("ratelimit: token wait exceeded deadline")

// Config holds limiter defaults. Rates are requests per second.
type Config struct {
	InitialRate float64
	MinRate     float64
	MaxRate     float64
	// IdleEviction is how long an untouched bucket survives before the
	// janitor drops it.
	IdleEviction time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		InitialRate:  10,
		MinRate:      0.5,
		MaxRate:      50,
		IdleEviction: 10 * time.Minute,
	}
}

// bucket is the per-domain state. currentRate is guarded by mu; the embedded
// rate.Limiter performs the actual token accounting.
type bucket struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	currentRate float64
	lastUsed    time.Time
}

// Limiter owns the per-domain buckets.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
	stopped sync.Once
}

// NewLimiter creates a limiter and starts the idle-bucket janitor.
func NewLimiter(cfg Config) *Limiter {
	if cfg.InitialRate <= 0 {
		cfg = DefaultConfig()
	}
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Close stops the janitor.
func (l *Limiter) Close() {
	l.stopped.Do(func() { close(l.stop) })
}

func (l *Limiter) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) evictIdle() {
	cutoff := time.Now().Add(-l.cfg.IdleEviction)
	l.mu.Lock()
	defer l.mu.Unlock()
	for domain, b := range l.buckets {
		b.mu.Lock()
		idle := b.lastUsed.Before(cutoff)
		b.mu.Unlock()
		if idle {
			delete(l.buckets, domain)
		}
	}
}

func (l *Limiter) bucketFor(domain string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[domain]
	if !ok {
		b = &bucket{
			limiter:     rate.NewLimiter(rate.Limit(l.cfg.InitialRate), burstFor(l.cfg.InitialRate)),
			currentRate: l.cfg.InitialRate,
			lastUsed:    time.Now(),
		}
		l.buckets[domain] = b
	}
	return b
}

// Capacity tracks the current rate so a domain can burst at most one
// second's worth of tokens.
func burstFor(r float64) int {
	if r < 1 {
		return 1
	}
	return int(r)
}

// Wait blocks until one token for the domain is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	b := l.bucketFor(domain)
	b.mu.Lock()
	b.lastUsed = time.Now()
	b.mu.Unlock()
	if err := b.limiter.Wait(ctx); err != nil {
		metrics.RecordRateLimitEvent(domain, "wait_timeout")
		return ErrBucketTimeout
	}
	return nil
}

// RecordSuccess applies additive-increase feedback: rate <- min(rate*1.1, max).
func (l *Limiter) RecordSuccess(domain string) {
	l.adjust(domain, "success", func(r float64) float64 { return r * 1.1 })
}

// RecordThrottle applies multiplicative-decrease feedback after a 429/503.
func (l *Limiter) RecordThrottle(domain string) {
	l.adjust(domain, "throttle", func(r float64) float64 { return r / 2 })
}

// RecordTimeout cuts the rate by a quarter after a timed-out request.
func (l *Limiter) RecordTimeout(domain string) {
	l.adjust(domain, "timeout", func(r float64) float64 { return r * 0.75 })
}

func (l *Limiter) adjust(domain, event string, fn func(float64) float64) {
	b := l.bucketFor(domain)
	b.mu.Lock()
	defer b.mu.Unlock()

	next := fn(b.currentRate)
	if next > l.cfg.MaxRate {
		next = l.cfg.MaxRate
	}
	if next < l.cfg.MinRate {
		next = l.cfg.MinRate
	}
	if next != b.currentRate {
		b.currentRate = next
		b.limiter.SetLimit(rate.Limit(next))
		b.limiter.SetBurst(burstFor(next))
	}
	metrics.RecordRateLimitEvent(domain, event)
}

// Rate reports the current rate for a domain (primarily for tests and stats).
func (l *Limiter) Rate(domain string) float64 {
	b := l.bucketFor(domain)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentRate
}

// Domains returns the domains with live buckets.
func (l *Limiter) Domains() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.buckets))
	for d := range l.buckets {
		out = append(out, d)
	}
	return out
}
