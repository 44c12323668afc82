// Package ratelimiter throttles requests per client with token buckets.
package ratelimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Limiter.
type Config struct {
	// RequestsPerSecond is the sustained rate allowed per client. Zero
	// disables limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`

	// Burst is how many requests a client may send at once (default: the
	// rate rounded up, at least 1).
	Burst int `mapstructure:"burst" validate:"gte=0"`

	// IdleTTL is how long an idle client's bucket is kept (default: 10m).
	IdleTTL time.Duration `mapstructure:"idle_ttl" validate:"omitempty,gt=0"`
}

// Limiter holds one token bucket per client key.
//
// The token bucket algorithm works as follows:
//  1. Tokens are added to a client's bucket at RequestsPerSecond
//  2. Each request consumes one token
//  3. A request finding the bucket empty is rejected
//
// Buckets of clients idle for longer than IdleTTL are dropped, so memory
// stays proportional to the number of recently active clients.
//
// Thread safety:
// All methods are safe for concurrent use.
type Limiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	clients   map[string]*bucket
	lastPrune time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a Limiter.
//
// Returns nil when cfg.RequestsPerSecond is zero. A nil *Limiter allows
// every request.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.RequestsPerSecond+0.999))
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}

	return &Limiter{
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		idleTTL: cfg.IdleTTL,
		now:     time.Now,
		clients: make(map[string]*bucket),
	}
}

// Allow reports whether a request from key may proceed, consuming a token
// if so.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	b, ok := l.clients[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Clients returns the number of tracked client buckets.
func (l *Limiter) Clients() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// pruneLocked drops idle buckets at most once per idleTTL.
func (l *Limiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.idleTTL {
		return
	}
	l.lastPrune = now
	for key, b := range l.clients {
		if now.Sub(b.lastSeen) >= l.idleTTL {
			delete(l.clients, key)
		}
	}
}
