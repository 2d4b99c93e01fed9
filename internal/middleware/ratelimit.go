package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vigilsec/riskengine/internal/config"
)

const (
	maxPeekBytes    = 1 << 20 // bodies past this fail JSON decoding downstream
	cleanupInterval = 5 * time.Minute
)

// UserRateLimiter enforces a per-user token bucket on the assess endpoints.
// The user id comes from the request body (identity.user_id); requests with
// no parsable identity fall back to the client IP so a malformed flood
// cannot bypass the limiter.
type UserRateLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*rate.Limiter
	limit       rate.Limit
	burst       int
	lastCleanup time.Time
	logger      *log.Logger
	onReject    func()
}

// NewUserRateLimiter creates a limiter from configuration.
func NewUserRateLimiter(cfg config.RateLimitConfig) *UserRateLimiter {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 120
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 20
	}

	return &UserRateLimiter{
		buckets:     make(map[string]*rate.Limiter),
		limit:       rate.Limit(float64(rpm) / 60.0),
		burst:       burst,
		lastCleanup: time.Now(),
		logger:      log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
	}
}

// SetRejectHook wires an observer for rejected requests. Used for metrics.
func (rl *UserRateLimiter) SetRejectHook(hook func()) {
	rl.onReject = hook
}

// Allow reports whether one more request for key fits the budget.
func (rl *UserRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	limiter, ok := rl.buckets[key]
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.buckets[key] = limiter
	}
	rl.maybeCleanupLocked()
	rl.mu.Unlock()

	return limiter.Allow()
}

// Middleware enforces the limit and answers 429 when it is exceeded.
func (rl *UserRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.requestKey(r)
		if !rl.Allow(key) {
			rl.logger.Printf("🚫 Rate limit exceeded: key=%s", key)
			if rl.onReject != nil {
				rl.onReject()
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","retry_after_seconds":60}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Stats returns current limiter statistics.
func (rl *UserRateLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]interface{}{
		"active_buckets": len(rl.buckets),
		"rate_per_sec":   float64(rl.limit),
		"burst":          rl.burst,
	}
}

// requestKey peeks identity.user_id from the JSON body, then restores the
// body for the handler.
func (rl *UserRateLimiter) requestKey(r *http.Request) string {
	if r.Body == nil {
		return "ip:" + ClientIP(r)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return "ip:" + ClientIP(r)
	}

	var peek struct {
		Identity struct {
			UserID string `json:"user_id"`
		} `json:"identity"`
	}
	if err := json.Unmarshal(body, &peek); err == nil && peek.Identity.UserID != "" {
		return "user:" + peek.Identity.UserID
	}
	return "ip:" + ClientIP(r)
}

// maybeCleanupLocked drops all buckets once the cleanup interval has passed.
// Callers hold rl.mu.
func (rl *UserRateLimiter) maybeCleanupLocked() {
	if time.Since(rl.lastCleanup) < cleanupInterval {
		return
	}
	rl.buckets = make(map[string]*rate.Limiter)
	rl.lastCleanup = time.Now()
}

// ClientIP extracts the real client IP from the request, honoring reverse
// proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// "client, proxy1, proxy2" -> take the original client
		if idx := strings.Index(xff, ","); idx > 0 {
			xff = xff[:idx]
		}
		if xff = strings.TrimSpace(xff); xff != "" {
			return xff
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
