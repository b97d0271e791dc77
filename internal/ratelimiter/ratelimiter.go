// Package ratelimiter implements the per-domain FIFO delay gate of
// spec.md §4.2: each domain may admit at most one request per configured
// interval, enforced by recording the last-admitted timestamp rather
// than a token bucket, so a domain that has been idle for longer than
// its interval is admitted immediately.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"github.com/corpuscore/acquire/internal/config"
)

// RateLimiter gates dispatch per domain. Acquire is called once per URL
// immediately before a worker is handed the job, per spec.md §4.2's
// "acquired at dispatch time, not at the start of the fetch stage".
type RateLimiter struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
	cfg      *config.Config
}

// New builds a RateLimiter reading its per-domain intervals from cfg.
func New(cfg *config.Config) *RateLimiter {
	return &RateLimiter{
		lastSent: make(map[string]time.Time),
		cfg:      cfg,
	}
}

// Acquire blocks until domain's configured delay has elapsed since the
// last admitted request for that domain, or ctx is cancelled. Domains
// are independent: blocking on one never delays another.
func (r *RateLimiter) Acquire(ctx context.Context, domain string) error {
	for {
		r.mu.Lock()
		now := time.Now()
		last, seen := r.lastSent[domain]
		delay := r.cfg.DelayForDomain(domain)

		if !seen || now.Sub(last) >= delay {
			r.lastSent[domain] = now
			r.mu.Unlock()
			return nil
		}
		wait := delay - now.Sub(last)
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			// Loop back around: re-check under the lock in case another
			// goroutine for the same domain was admitted in the meantime.
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// ActiveDomainCount reports how many distinct domains have been seen,
// mostly useful for tests and diagnostics.
func (r *RateLimiter) ActiveDomainCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lastSent)
}
