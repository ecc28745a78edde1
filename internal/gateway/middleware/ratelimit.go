package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"chorus/internal/gateway/handlers"
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerMinute is the sustained rate per key.
	RequestsPerMinute int
	// Burst is the bucket size.
	Burst int
	// Enabled turns limiting on.
	Enabled bool
	// CleanupInterval is how often idle buckets are dropped.
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig returns the default rate limiter configuration.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 60,
		Burst:             10,
		Enabled:           true,
		CleanupInterval:   5 * time.Minute,
	}
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is a token bucket per key, by default the client IP.
type RateLimiter struct {
	config  RateLimiterConfig
	key     func(*http.Request) string
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	stopCh  chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewRateLimiter creates a limiter. Zero rates fall back to the defaults.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = def.RequestsPerMinute
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	rl := &RateLimiter{
		config:  config,
		key:     getClientIP,
		buckets: make(map[string]*tokenBucket),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	if config.Enabled && config.CleanupInterval > 0 {
		go rl.cleanup()
	}
	return rl
}

// KeyBy replaces the function that names a request's bucket.
func (rl *RateLimiter) KeyBy(key func(*http.Request) string) *RateLimiter {
	rl.key = key
	return rl
}

// Stop ends the cleanup goroutine. It is safe to call twice.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			idle := rl.now().Add(-2 * rl.config.CleanupInterval)
			rl.mu.Lock()
			for key, b := range rl.buckets {
				b.mu.Lock()
				if b.lastRefill.Before(idle) {
					delete(rl.buckets, key)
				}
				b.mu.Unlock()
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) bucket(key string) *tokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: float64(rl.config.Burst), lastRefill: rl.now()}
		rl.buckets[key] = b
	}
	return b
}

// Allow takes a token for key. It returns whether the request may pass,
// the tokens left and when the bucket will be full again.
func (rl *RateLimiter) Allow(key string) (bool, int, time.Time) {
	now := rl.now()
	if !rl.config.Enabled {
		return true, rl.config.RequestsPerMinute, now.Add(time.Minute)
	}

	b := rl.bucket(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	perSecond := float64(rl.config.RequestsPerMinute) / 60
	b.tokens = min(float64(rl.config.Burst), b.tokens+now.Sub(b.lastRefill).Seconds()*perSecond)
	b.lastRefill = now

	reset := now.Add(time.Duration((float64(rl.config.Burst) - b.tokens) / perSecond * float64(time.Second)))
	if b.tokens < 1 {
		return false, 0, reset
	}
	b.tokens--
	return true, int(b.tokens), reset
}

// RateLimit rejects requests over the limit with a 429 error envelope.
func (rl *RateLimiter) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, reset := rl.Allow(rl.key(r))
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerMinute))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if !allowed {
			h.Set("Retry-After", strconv.FormatInt(int64(reset.Sub(rl.now()).Seconds())+1, 10))
			handlers.SendError(w, http.StatusTooManyRequests, handlers.ErrCodeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
