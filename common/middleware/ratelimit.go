package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/datasync/common/logger"
	"github.com/lyzr/datasync/common/ratelimit"
)

// SessionRateLimit caps how many requests one client IP may make per
// window. Checks that error fail open.
func SessionRateLimit(checker ratelimit.Checker, limit int64, window time.Duration, log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "session:" + c.RealIP()

			result, err := checker.Check(c.Request().Context(), key, limit, window)
			if err != nil {
				log.Warn("rate limit unavailable, allowing request", "key", key, "error", err)
				return next(c)
			}

			if !result.Allowed {
				retryAfter := int64(math.Ceil(result.RetryAfter.Seconds()))
				c.Response().Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "session_rate_limit_exceeded",
					"message": "Too many sessions opened. Please try again later.",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"window_seconds":      int64(window.Seconds()),
						"current_count":       result.CurrentCount,
						"retry_after_seconds": retryAfter,
					},
				})
			}

			return next(c)
		}
	}
}
