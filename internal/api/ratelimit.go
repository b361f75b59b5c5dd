package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter implements sliding window rate limiting per key
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[string][]time.Time
	limit    int
	window   time.Duration
	keyFunc  func(r *http.Request) string
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// RateLimitConfig defines rate limit parameters
type RateLimitConfig struct {
	Limit   int           // Max requests per window
	Window  time.Duration // Time window
	KeyFunc func(r *http.Request) string
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = GetClientIP
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	rl := &RateLimiter{
		windows: make(map[string][]time.Time),
		limit:   cfg.Limit,
		window:  cfg.Window,
		keyFunc: cfg.KeyFunc,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, stamps := range rl.windows {
				if stamps = prune(stamps, now, rl.window); len(stamps) == 0 {
					delete(rl.windows, key)
				} else {
					rl.windows[key] = stamps
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call multiple times.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

// Allow records the request and reports whether it is within the limit
func (rl *RateLimiter) Allow(r *http.Request) bool {
	key := rl.keyFunc(r)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	stamps := prune(rl.windows[key], now, rl.window)
	if len(stamps) >= rl.limit {
		rl.windows[key] = stamps
		return false
	}
	rl.windows[key] = append(stamps, now)
	return true
}

// prune drops timestamps older than the window; stamps are in order.
func prune(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	return stamps[i:]
}

// Middleware returns HTTP middleware for rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(r) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetClientIP extracts the client IP from a request.
// chi middleware.RealIP already rewrote r.RemoteAddr; only the port is
// stripped here so a spoofed X-Forwarded-For cannot dodge the limit.
func GetClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimiters holds all rate limiters for the application
type RateLimiters struct {
	Global *RateLimiter
	// Start guards POST /api/runs; each run costs hundreds of portal requests.
	Start  *RateLimiter
	Export *RateLimiter
}

// NewRateLimiters creates the standard rate limiters
func NewRateLimiters() *RateLimiters {
	return &RateLimiters{
		Global: NewRateLimiter(RateLimitConfig{Limit: 120, Window: time.Minute}),
		Start:  NewRateLimiter(RateLimitConfig{Limit: 3, Window: time.Minute}),
		Export: NewRateLimiter(RateLimitConfig{Limit: 6, Window: time.Minute}),
	}
}

// Stop stops all rate limiter cleanup goroutines
func (rls *RateLimiters) Stop() {
	rls.Global.Stop()
	rls.Start.Stop()
	rls.Export.Stop()
}

// ExportGuardMiddleware applies the export rate limit and caps concurrent
// exports at slots. Returns 429 if rate limited, 503 if all slots are busy.
func ExportGuardMiddleware(exportRL *RateLimiter, slots int) func(http.Handler) http.Handler {
	sem := make(chan struct{}, max(slots, 1))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !exportRL.Allow(r) {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "Export rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			default:
				http.Error(w, "Export capacity full, try again shortly", http.StatusServiceUnavailable)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
