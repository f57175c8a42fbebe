// internal/app/system/ratelimit/ratelimit.go
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pool hands out one token-bucket limiter per key. Limiters are created on
// first use and dropped by Sweep once idle. It is safe for concurrent use.
type Pool struct {
	mu    sync.Mutex
	m     map[string]*entry
	rps   rate.Limit
	burst int
	now   func() time.Time
}

type entry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// New creates a pool allowing rps events per second per key with the given
// burst. rps <= 0 disables limiting.
func New(rps float64, burst int) *Pool {
	if burst < 1 {
		burst = 1
	}
	lim := rate.Limit(rps)
	if rps <= 0 {
		lim = rate.Inf
	}
	return &Pool{
		m:     make(map[string]*entry),
		rps:   lim,
		burst: burst,
		now:   time.Now,
	}
}

func (p *Pool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		e = &entry{l: rate.NewLimiter(p.rps, p.burst)}
		p.m[key] = e
	}
	e.lastSeen = p.now()
	return e.l
}

// Allow reports whether an event for key may happen now.
func (p *Pool) Allow(key string) bool {
	return p.get(key).Allow()
}

// Len returns the number of tracked keys.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// Sweep removes limiters not used within idle and returns how many were removed.
func (p *Pool) Sweep(idle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.now().Add(-idle)
	n := 0
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
			n++
		}
	}
	return n
}

// ClientIP extracts the client IP from an HTTP request.
// It checks X-Forwarded-For and X-Real-IP headers first (for proxied requests),
// then falls back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}
	return ip
}
