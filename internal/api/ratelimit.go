package api

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorLimiter hands each client IP its own token bucket. Idle buckets
// age out during the amortized sweep so the map tracks active clients only.
type visitorLimiter struct {
	rps   rate.Limit
	burst int
	ttl   time.Duration

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

type visitor struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

var apiVisitors = newVisitorLimiter()

// newVisitorLimiter reads API_RATE_LIMIT_RPS, API_RATE_LIMIT_BURST and
// API_RATE_LIMIT_TTL_MIN. An rps of zero or below disables the middleware.
func newVisitorLimiter() *visitorLimiter {
	l := &visitorLimiter{
		rps:      10,
		burst:    20,
		ttl:      15 * time.Minute,
		visitors: make(map[string]*visitor),
	}
	if v := strings.TrimSpace(os.Getenv("API_RATE_LIMIT_RPS")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			l.rps = rate.Limit(n)
		}
	}
	if v := strings.TrimSpace(os.Getenv("API_RATE_LIMIT_BURST")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			l.burst = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("API_RATE_LIMIT_TTL_MIN")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			l.ttl = time.Duration(n) * time.Minute
		}
	}
	return l
}

func rateLimitMiddleware(next http.Handler) http.Handler {
	if apiVisitors.rps <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Probes, scrapers and the long-lived feed socket stay exempt.
		switch r.URL.Path {
		case "/health", "/metrics", "/ws/feed":
			next.ServeHTTP(w, r)
			return
		}
		if !apiVisitors.allow(clientIP(r)) {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(int(apiVisitors.rps)))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *visitorLimiter) allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > time.Minute {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.ttl {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v := l.visitors[ip]
	if v == nil {
		v = &visitor{bucket: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.bucket.Allow()
}

// clientIP trusts the edge proxy headers before falling back to the socket
// peer. An empty result collapses to a shared bucket, which is the safe
// direction.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}
