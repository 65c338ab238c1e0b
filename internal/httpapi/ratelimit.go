package httpapi

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ourstudio-se/oat-db/internal/config"
)

// rateLimiter grants each (database, caller) pair its own token bucket, so
// a hot client hammering one database cannot starve writers on another —
// the same per-database scope the versioning engine serializes on. Calls
// outside any database path (listing databases, artifacts) share a
// caller-only bucket. Grounded on the teacher's per-identifier UserLimiter
// map but collapsed to a single tier since oat-db has no subscription
// concept.
type rateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	limit      rate.Limit
	burst      int
	lastAccess map[string]time.Time
}

func newRateLimiter(cfg *config.Config) *rateLimiter {
	rl := &rateLimiter{
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		limit:      rate.Limit(cfg.Performance.RateLimitRequestsPerSec),
		burst:      cfg.Performance.RateLimitBurst,
	}
	go rl.cleanup()
	return rl
}

func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		for id, last := range rl.lastAccess {
			if time.Since(last) > time.Hour {
				delete(rl.limiters, id)
				delete(rl.lastAccess, id)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) allow(identifier string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[identifier]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[identifier] = l
	}
	rl.lastAccess[identifier] = time.Now()
	return l.Allow()
}

// databaseFromPath extracts the database id segment from a request path.
// The limiter runs ahead of chi's route matching, so URL params are not
// populated yet and the path is walked directly.
func databaseFromPath(path string) string {
	const marker = "/databases/"
	idx := strings.Index(path, marker)
	if idx < 0 {
		return ""
	}
	rest := path[idx+len(marker):]
	if cut := strings.IndexByte(rest, '/'); cut >= 0 {
		rest = rest[:cut]
	}
	return rest
}

// rateLimitMiddleware returns chi middleware enforcing cfg's configured
// requests-per-second and burst per (database, caller) bucket, a no-op
// when rate limiting is disabled.
func rateLimitMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	if !cfg.Performance.RateLimitEnabled {
		return func(next http.Handler) http.Handler { return next }
	}
	rl := newRateLimiter(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := r.RemoteAddr
			if a, ok := r.Context().Value(authorContextKey).(string); ok && a != "" {
				caller = a
			}
			identifier := databaseFromPath(r.URL.Path) + "|" + caller
			if !rl.allow(identifier) {
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":   "rate_limited",
					"message": "too many requests, slow down",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
