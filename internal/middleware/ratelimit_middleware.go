package middleware

import (
	"net/http"
	"strconv"

	"postmesh/internal/redis"
	"postmesh/internal/transport/httpdto"
	"postmesh/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimitMiddleware applies the limiter per client IP under the given scope.
// When the limiter itself fails the request is let through.
func RateLimitMiddleware(limiter *redis.RateLimiter, scope string, l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := limiter.Allow(c.Request.Context(), scope, c.ClientIP())
		if err != nil {
			if l != nil {
				l.Warn(c.Request.Context(), "rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			}
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("too many requests, please try again later", "RATE_LIMITED"))
			c.Abort()
			return
		}

		c.Next()
	}
}

// setRateLimitHeaders sets standard rate limit response headers
func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
