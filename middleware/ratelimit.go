package middleware

import (
	"net/http"
	"strconv"
	"time"

	"mail-archive-search/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitMiddleware implements a fixed-window limit in Redis keyed by token
// subject when authenticated, otherwise by client IP, and by route.
func RateLimitMiddleware(rdb *redis.Client, limit, windowSeconds int) gin.HandlerFunc {
	window := time.Duration(windowSeconds) * time.Second

	return func(c *gin.Context) {
		who := "ip:" + c.ClientIP()
		if claims := GetClaims(c); claims != nil {
			who = "sub:" + claims.Subject
		}
		key := "ratelimit:" + who + ":" + c.FullPath()

		ctx := c.Request.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err == nil && count == 1 {
			err = rdb.Expire(ctx, key, window).Err()
		}
		if err != nil {
			// Fail open
			Log(c).Warn("Rate limiter unavailable", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		if count > int64(limit) {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(windowSeconds))

			utils.RespondWithError(c, http.StatusTooManyRequests,
				"rate_limit_exceeded",
				"Too many requests. Please try again later.",
				gin.H{
					"retry_after": windowSeconds,
					"limit":       limit,
				})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(limit-int(count)))
		c.Next()
	}
}
