package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/timbouc/cart/pkg/httputil"
)

// RateLimitConfig configures RateLimit. A zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64
	Burst int
	// Limiters unused for this long are dropped.
	IdleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet hands out one token bucket per key. Stale buckets are swept
// inline, at most once per ttl.
type limiterSet struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterSet(cfg RateLimitConfig) *limiterSet {
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &limiterSet{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(cfg.RPS),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= s.ttl {
		for k, b := range s.buckets {
			if now.Sub(b.lastSeen) > s.ttl {
				delete(s.buckets, k)
			}
		}
		s.lastSweep = now
	}

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// RateLimit limits requests per cart session, or per client address when the
// request carries no session. Mount it after Session. Rejected requests get
// 429 with a Retry-After header.
func RateLimit(cfg RateLimitConfig, l *slog.Logger) func(http.Handler) http.Handler {
	if cfg.RPS <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	set := newLimiterSet(cfg)
	// Seconds until a fresh token, rounded up.
	retryAfter := strconv.Itoa(int(math.Ceil(1 / cfg.RPS)))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := SessionIDFromContext(r.Context())
			if key == "" {
				key = remoteHost(r)
			}
			if !set.allow(key) {
				l.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("key", key),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", retryAfter)
				httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "RATE_LIMITED", Message: "too many requests"},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
