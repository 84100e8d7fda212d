// Package ratelimit provides a per-key token bucket limiter registry built
// on golang.org/x/time/rate, the same limiter the corpus reaches for
// wherever an outbound or inbound call rate needs pacing.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Registry hands out one *rate.Limiter per key (client IP, session id, API
// token) and evicts limiters that have been idle past ttl so the map does
// not grow without bound under a churn of distinct keys.
type Registry struct {
	mu        sync.Mutex
	limiters  map[string]*entry
	rps       rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// New builds a Registry issuing limiters of rps requests/sec with the given
// burst, evicting entries idle longer than ttl on an opportunistic sweep.
func New(rps float64, burst int, ttl time.Duration) *Registry {
	return &Registry{
		limiters: make(map[string]*entry),
		rps:      rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow reports whether a request for key may proceed right now, consuming
// a token if so.
func (r *Registry) Allow(key string) bool {
	return r.limiterFor(key).Allow()
}

// Reserve returns the duration the caller must wait before a request for
// key would be allowed, consuming a token for that future slot.
func (r *Registry) Reserve(key string) time.Duration {
	res := r.limiterFor(key).Reserve()
	if !res.OK() {
		return 0
	}
	return res.Delay()
}

func (r *Registry) limiterFor(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweepLocked(now)

	e, ok := r.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(r.rps, r.burst)}
		r.limiters[key] = e
	}
	e.lastAccess = now
	return e.limiter
}

// sweepLocked evicts idle entries at most once per ttl/2 so Allow stays
// cheap on the hot path. Caller must hold r.mu.
func (r *Registry) sweepLocked(now time.Time) {
	if r.ttl <= 0 {
		return
	}
	if now.Sub(r.lastSweep) < r.ttl/2 {
		return
	}
	r.lastSweep = now
	for k, e := range r.limiters {
		if now.Sub(e.lastAccess) > r.ttl {
			delete(r.limiters, k)
		}
	}
}

// Size reports the number of live limiters.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
