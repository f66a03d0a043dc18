// Package ratelimit throttles repeated confirmation attempts per account,
// guarding the WebAuthn/VRF challenge-generation path against a host
// hammering the same accountId with retries.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config parameterizes a PerKeyLimiter.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig allows a modest confirmation-request rate per account:
// bursts of activity (e.g. registering then immediately signing) pass,
// but a tight retry loop does not.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 2, Burst: 5}
}

// PerKeyLimiter lazily creates one token-bucket limiter per key (typically
// an accountId) and evicts idle entries so the map does not grow unbounded
// across long-running processes.
type PerKeyLimiter struct {
	cfg Config

	mu       sync.Mutex
	limiters map[string]*entry
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a PerKeyLimiter. A zero-value Config falls back to
// DefaultConfig.
func New(cfg Config) *PerKeyLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}
	return &PerKeyLimiter{cfg: cfg, limiters: make(map[string]*entry)}
}

// Allow reports whether a request for key may proceed now, consuming a
// token if so.
func (p *PerKeyLimiter) Allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.limiters)%256 == 0 {
		p.evictIdleLocked()
	}

	e, ok := p.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(p.cfg.RequestsPerSecond), p.cfg.Burst)}
		p.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

func (p *PerKeyLimiter) evictIdleLocked() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for k, e := range p.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(p.limiters, k)
		}
	}
}
