package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// commonMiddleware sets the response content type and permissive CORS
// headers on every request, short-circuiting OPTIONS preflights before
// they reach a handler.
func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type ipLimiter struct {
	mu          sync.Mutex
	entries     map[string]*ipLimiterEntry
	lastCleanup time.Time

	rps   rate.Limit
	burst int
	ttl   time.Duration
}

// newIPLimiter builds a per-IP token-bucket limiter. Entries idle past
// ttl are dropped during the periodic cleanup in allow.
func newIPLimiter(rps float64, burst int) *ipLimiter {
	return &ipLimiter{
		entries: make(map[string]*ipLimiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		ttl:     15 * time.Minute,
	}
}

func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	if l == nil || l.rps <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if ip == "" {
			ip = "unknown"
		}
		if !l.allow(ip) {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(int(l.rps)))
			writeAPIError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *ipLimiter) allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastCleanup.IsZero() || now.Sub(l.lastCleanup) > time.Minute {
		for k, v := range l.entries {
			if now.Sub(v.lastSeen) > l.ttl {
				delete(l.entries, k)
			}
		}
		l.lastCleanup = now
	}

	ent := l.entries[ip]
	if ent == nil {
		ent = &ipLimiterEntry{limiter: rate.NewLimiter(l.rps, l.burst), lastSeen: now}
		l.entries[ip] = ent
	} else {
		ent.lastSeen = now
	}
	return ent.limiter.Allow()
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// adminAuthMiddleware checks a Bearer token against the configured admin
// token. An empty configured token disables the admin surface entirely.
func adminAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if token == "" {
				writeAPIError(w, http.StatusForbidden, "admin API is disabled (no ADMIN_TOKEN configured)")
				return
			}
			auth := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			if auth != token {
				writeAPIError(w, http.StatusUnauthorized, "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
