package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	// redis is optional; without it attempts are counted in process.
	redis  *redis.Client
	prefix string
	limit  int64
	window time.Duration

	mu    sync.Mutex
	local map[string]*attempts
	now   func() time.Time
}

type attempts struct {
	count int64
	reset time.Time
}

func NewRateLimiter(redisClient *redis.Client, prefix string, perWindow int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		prefix: prefix,
		limit:  int64(perWindow),
		window: window,
		local:  map[string]*attempts{},
		now:    time.Now,
	}
}

// LoginThrottle limits sign-in submissions per client IP. GETs of the form pass.
// onLimit renders the rejection; nil answers a bare 429.
func (r *RateLimiter) LoginThrottle(onLimit echo.HandlerFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method != http.MethodPost || r.limit <= 0 {
				return next(c)
			}

			key := fmt.Sprintf("%sthrottle:login:%s", r.prefix, c.RealIP())
			if !r.allow(c.Request().Context(), key) {
				slog.Warn("login throttled", "ip", c.RealIP())
				if onLimit != nil {
					return onLimit(c)
				}
				return c.String(http.StatusTooManyRequests, "Too many sign-in attempts")
			}
			return next(c)
		}
	}
}

func (r *RateLimiter) allow(ctx context.Context, key string) bool {
	if r.redis != nil {
		count, err := r.redis.Incr(ctx, key).Result()
		if err == nil {
			if count == 1 {
				r.redis.Expire(ctx, key, r.window)
			}
			return count <= r.limit
		}
		// fall through to the in-process counter while redis is unreachable
		slog.Debug("throttle counter unavailable", "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	a, ok := r.local[key]
	if !ok || now.After(a.reset) {
		a = &attempts{reset: now.Add(r.window)}
		r.local[key] = a
	}
	a.count++
	return a.count <= r.limit
}
