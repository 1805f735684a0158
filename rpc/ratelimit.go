package rpc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const visitorTTL = 5 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter applies a token bucket per client address.
type clientLimiter struct {
	limit    RateLimit
	mu       sync.Mutex
	visitors map[string]*visitor
	clockNow func() time.Time
}

func newClientLimiter(limit RateLimit) *clientLimiter {
	return &clientLimiter{
		limit:    limit,
		visitors: make(map[string]*visitor),
		clockNow: time.Now,
	}
}

func (c *clientLimiter) middleware(onLimited func(http.ResponseWriter, string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c.limit.RequestsPerMinute <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			client := clientSource(r)
			if !c.allow(client) {
				onLimited(w, client)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (c *clientLimiter) allow(client string) bool {
	if client == "" {
		client = "unknown"
	}
	now := c.clockNow()
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, v := range c.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(c.visitors, id)
		}
	}
	v, ok := c.visitors[client]
	if !ok {
		perSecond := c.limit.RequestsPerMinute / 60.0
		burst := c.limit.Burst
		if burst <= 0 {
			burst = 1
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		c.visitors[client] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if candidate := strings.TrimSpace(first); candidate != "" {
			return candidate
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
