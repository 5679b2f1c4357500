package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/taskie/internal/auth"
)

// Limit is a named request budget. Each name counts separately, so failed
// logins do not use up the join budget of the same client.
type Limit struct {
	Name   string
	Max    int
	Window time.Duration
}

var (
	// LoginLimit bounds password guessing per client address.
	LoginLimit = Limit{Name: "login", Max: 10, Window: time.Minute}
	// RegisterLimit bounds account creation per client address.
	RegisterLimit = Limit{Name: "register", Max: 5, Window: time.Hour}
	// JoinLimit bounds join code guessing per signed-in user.
	JoinLimit = Limit{Name: "join", Max: 5, Window: 15 * time.Minute}
)

// RealIP extracts the client's real IP address, preferring Cloudflare's
// CF-Connecting-IP header, then X-Forwarded-For, and falling back to RemoteAddr.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ByIP keys requests by client address.
func ByIP(r *http.Request) string {
	return "ip:" + RealIP(r)
}

// ByUser keys requests by the authenticated user, falling back to the client
// address outside RequireAuth.
func ByUser(r *http.Request) string {
	if id := auth.UserID(r.Context()); id != 0 {
		return "user:" + strconv.FormatInt(id, 10)
	}
	return ByIP(r)
}

type window struct {
	count   int
	resetAt time.Time
}

// RateLimiter counts requests in fixed windows, in memory.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow records a request for key under limit. When the budget is spent it
// returns false and how long until the window resets.
func (rl *RateLimiter) Allow(limit Limit, key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	id := limit.Name + "|" + key
	w, ok := rl.windows[id]
	if !ok || !now.Before(w.resetAt) {
		rl.windows[id] = &window{count: 1, resetAt: now.Add(limit.Window)}
		return true, 0
	}
	w.count++
	if w.count > limit.Max {
		return false, w.resetAt.Sub(now)
	}
	return true, 0
}

// Cleanup removes windows that have reset.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for id, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, id)
		}
	}
}

// RateLimit returns middleware enforcing limit per keyFunc(r). Rejected
// requests get 429 with Retry-After in whole seconds.
func RateLimit(limiter *RateLimiter, limit Limit, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retry := limiter.Allow(limit, keyFunc(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
