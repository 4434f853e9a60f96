package httpx

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxTrackedClients = 10_000

// RateLimiter is a per process token bucket keyed by client IP. limit
// requests may burst at once and the bucket refills over window. Use
// RedisRateLimiter when more than one replica serves the same routes.
type RateLimiter struct {
	every  rate.Limit
	burst  int
	window time.Duration

	mu      sync.Mutex
	clients map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		window:  window,
		clients: map[string]*clientBucket{},
	}
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if wait := rl.reserve(clientKey(r), time.Now()); wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// reserve takes a token for key and returns zero, or how long the caller
// would have had to wait. A refused reservation is cancelled so it does not
// consume future tokens.
func (rl *RateLimiter) reserve(key string, now time.Time) time.Duration {
	rl.mu.Lock()
	b := rl.clients[key]
	if b == nil {
		if len(rl.clients) >= maxTrackedClients {
			rl.evictIdle(now)
		}
		b = &clientBucket{limiter: rate.NewLimiter(rl.every, rl.burst)}
		rl.clients[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return rl.window
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return d
	}
	return 0
}

// evictIdle drops buckets untouched for a full window; they are full again.
func (rl *RateLimiter) evictIdle(now time.Time) {
	for key, b := range rl.clients {
		if now.Sub(b.lastSeen) > rl.window {
			delete(rl.clients, key)
		}
	}
}

// clientKey prefers the first X-Forwarded-For hop set by the ingress.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
