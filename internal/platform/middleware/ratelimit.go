package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/claims/internal/platform/kv"
)

// RateLimitConfig limits each client to Requests per Window.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Prefix   string
}

// DefaultRateLimitConfig returns 600 requests per minute.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Requests: 600, Window: time.Minute, Prefix: "ratelimit:"}
}

// RateLimit counts requests per client IP in fixed windows held in store, so
// every instance sharing a Redis store enforces one budget. If the store is
// unreachable the request is let through and the failure logged.
func RateLimit(store kv.Store, cfg RateLimitConfig, logger zerolog.Logger) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	limit := strconv.Itoa(cfg.Requests)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			now := time.Now()
			window := now.Truncate(cfg.Window)
			key := cfg.Prefix + c.RealIP() + ":" + strconv.FormatInt(window.Unix(), 10)

			n, err := store.Incr(c.Request().Context(), key, cfg.Window)
			if err != nil {
				logger.Warn().Err(err).Msg("rate limit store unavailable")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			remaining := int64(cfg.Requests) - n
			if remaining < 0 {
				remaining = 0
			}
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if n > int64(cfg.Requests) {
				retryAfter := int(window.Add(cfg.Window).Sub(now).Seconds()) + 1
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
