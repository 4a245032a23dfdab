package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// ErrLimiterUnavailable is returned by Allow when no Redis client is configured.
var ErrLimiterUnavailable = errors.New("rate limiter unavailable")

// Limiter is a fixed-window counter in Redis keyed by resource and caller.
type Limiter struct {
	rdb      *redis.Client
	bypassed bool
}

// NewLimiter creates a Limiter. With bypass set every call is allowed, which
// keeps local development and test runs unthrottled.
func NewLimiter(rdb *redis.Client, bypass bool) *Limiter {
	return &Limiter{rdb: rdb, bypassed: bypass}
}

// Allow counts one hit for resource/id and reports whether it is within limit
// for the current window.
func (l *Limiter) Allow(ctx context.Context, resource, id string, limit int, window time.Duration) (bool, error) {
	if l == nil || l.bypassed {
		return true, nil
	}
	if l.rdb == nil {
		return false, ErrLimiterUnavailable
	}

	key := fmt.Sprintf("rl:%s:%s", resource, id)
	cnt, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if cnt == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			return false, err
		}
	}
	return cnt <= int64(limit), nil
}

// Middleware enforces limit requests per window, keyed by the authenticated
// user when present and by remote IP otherwise. Limiter failures let the
// request through.
func (l *Limiter) Middleware(limit int, window time.Duration, name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := "ip:" + c.IP()
		if uid, ok := UserID(c); ok {
			id = fmt.Sprintf("user:%d", uid)
		}

		allowed, err := l.Allow(c.UserContext(), name, id, limit, window)
		if err != nil {
			Logger.WarnContext(c.UserContext(), "rate limit check failed, allowing request",
				slog.String("resource", name), slog.String("error", err.Error()))
			return c.Next()
		}
		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
