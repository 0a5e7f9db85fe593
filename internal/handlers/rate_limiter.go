package handlers

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/attarhouse/storefront/internal/platform/auth"
	"github.com/attarhouse/storefront/internal/platform/httpx"
	"github.com/attarhouse/storefront/internal/platform/requestctx"
)

const rateLimitWindow = time.Minute

type rateLimiter interface {
	// Allow consumes one slot for key and reports whether the call may proceed, plus the time the
	// current window resets.
	Allow(key string) (bool, time.Time)
}

// fixedWindowLimiter counts calls per key in fixed windows.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]rateEntry
}

type rateEntry struct {
	count int
	reset time.Time
}

// newRateLimiter returns nil when limit or window is not positive, which disables limiting.
func newRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]rateEntry),
	}
}

func (l *fixedWindowLimiter) Allow(key string) (bool, time.Time) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || !now.Before(entry.reset) {
		entry = rateEntry{count: 1, reset: now.Add(l.window)}
		l.store[key] = entry
		l.pruneExpiredLocked(now)
		return true, entry.reset
	}

	if entry.count >= l.limit {
		return false, entry.reset
	}
	entry.count++
	l.store[key] = entry
	return true, entry.reset
}

func (l *fixedWindowLimiter) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if !now.Before(entry.reset) {
			delete(l.store, key)
		}
	}
}

// rateLimited wraps next so that callers exceeding limiter receive 429 with Retry-After. A nil
// limiter passes every request through.
func rateLimited(limiter rateLimiter, scope string, clock func() time.Time, next http.HandlerFunc) http.HandlerFunc {
	if limiter == nil {
		return next
	}
	if clock == nil {
		clock = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		allowed, reset := limiter.Allow(scope + ":" + clientKey(r))
		if !allowed {
			retry := int(reset.Sub(clock()).Round(time.Second) / time.Second)
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests; try again shortly", http.StatusTooManyRequests))
			return
		}
		next(w, r)
	}
}

// clientKey identifies the caller: the authenticated uid when present, otherwise the client IP.
func clientKey(r *http.Request) string {
	if uid := auth.UserID(r.Context()); uid != "" {
		return "uid:" + uid
	}
	if ip := requestctx.ClientIP(r.Context()); ip != "" {
		return "ip:" + ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
