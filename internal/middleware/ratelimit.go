package middleware

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tarmsledger/tarms/internal/apperror"
)

// rateLimitEntry tracks request counts for a single IP within a time window.
type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// rateLimiter is a fixed-window per-IP counter held in memory. Expired
// entries are swept inline at most once per window, so no background
// goroutine outlives the server.
type rateLimiter struct {
	mu          sync.Mutex
	entries     map[string]*rateLimitEntry
	maxRequests int
	window      time.Duration
	lastSweep   time.Time
	now         func() time.Time
}

// allow records one request from ip and reports whether it is within the
// limit, and if not how long until the window resets.
func (l *rateLimiter) allow(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.window {
		for k, e := range l.entries {
			if now.Sub(e.windowStart) > l.window {
				delete(l.entries, k)
			}
		}
		l.lastSweep = now
	}

	entry, ok := l.entries[ip]
	if !ok || now.Sub(entry.windowStart) > l.window {
		l.entries[ip] = &rateLimitEntry{count: 1, windowStart: now}
		return true, 0
	}

	entry.count++
	if entry.count > l.maxRequests {
		return false, l.window - now.Sub(entry.windowStart)
	}
	return true, 0
}

// RateLimit returns middleware that limits requests per IP to maxRequests
// within the given window duration. Used on login and registration to slow
// down credential stuffing. Returns 429 with Retry-After when exceeded.
func RateLimit(maxRequests int, window time.Duration) echo.MiddlewareFunc {
	l := &rateLimiter{
		entries:     make(map[string]*rateLimitEntry),
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			ok, wait := l.allow(ip)
			if !ok {
				slog.Warn("rate limit exceeded",
					slog.String("remote_ip", ip),
					slog.String("path", c.Request().URL.Path),
				)
				secs := int(wait.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return apperror.NewTooManyRequests()
			}
			return next(c)
		}
	}
}
