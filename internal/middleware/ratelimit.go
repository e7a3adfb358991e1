package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tenantdesk/internal/auth"
)

// RateLimiterConfig holds the token bucket settings shared by every caller.
type RateLimiterConfig struct {
	Rate            rate.Limit
	Burst           int
	CleanupInterval time.Duration

	// OnLimited is called with the limit type of every rejected request.
	OnLimited func(limitType string)
}

// DefaultRateLimiterConfig allows 5 requests per second with bursts of 20.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:            rate.Limit(5),
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
	}
}

type callerLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per caller. Callers are keyed by user
// id once authenticated and by client IP otherwise.
type RateLimiter struct {
	config RateLimiterConfig

	mu       sync.RWMutex
	limiters map[string]*callerLimiter

	stopCh chan struct{}
	once   sync.Once
}

// NewRateLimiter creates a RateLimiter and starts its cleanup goroutine.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:   config,
		limiters: make(map[string]*callerLimiter),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// PerUser limits authenticated requests by user id. It must run after
// RequireAuth; requests without a user fall back to the client IP.
func (rl *RateLimiter) PerUser() func(http.Handler) http.Handler {
	return rl.middleware("user", func(r *http.Request) string {
		if userID, ok := UserIDFromContext(r.Context()); ok {
			return "user:" + userID.String()
		}
		return "ip:" + clientIP(r)
	})
}

// PerIP limits requests by client IP.
func (rl *RateLimiter) PerIP() func(http.Handler) http.Handler {
	return rl.middleware("ip", func(r *http.Request) string {
		return "ip:" + clientIP(r)
	})
}

// LimiterCount returns the number of tracked callers.
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) middleware(limitType string, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if !rl.getOrCreate(k).Allow() {
				zerolog.Ctx(r.Context()).Warn().
					Str("caller", k).
					Str("limit_type", limitType).
					Msg("rate limit exceeded")
				if rl.config.OnLimited != nil {
					rl.config.OnLimited(limitType)
				}
				writeRateLimitResponse(w, rl.config.Rate)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) getOrCreate(key string) *rate.Limiter {
	rl.mu.RLock()
	cl, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		rl.mu.Lock()
		cl.lastAccess = time.Now()
		rl.mu.Unlock()
		return cl.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double check
	if cl, exists := rl.limiters[key]; exists {
		cl.lastAccess = time.Now()
		return cl.limiter
	}

	limiter := rate.NewLimiter(rl.config.Rate, rl.config.Burst)
	rl.limiters[key] = &callerLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}
	return limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup drops callers idle for more than two cleanup intervals.
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.limiters, key)
		}
	}
}

// writeRateLimitResponse writes a 429 with Retry-After set to the time one
// token takes to refill.
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	auth.WriteJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
