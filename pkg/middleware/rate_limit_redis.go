package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/impala/hetero/backend/go-services/pkg/logger"
	"github.com/impala/hetero/backend/go-services/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimitMiddleware is a fixed-window limiter shared by every replica.
// The first hit for a key opens a window of the given length; up to
// floor(rps*window)+burst requests pass until it expires.
func RedisRateLimitMiddleware(client *redis.Client, rps float64, burst int, window time.Duration) gin.HandlerFunc {
	if client == nil {
		return RateLimitMiddleware(rps, burst)
	}
	if window < time.Second {
		window = time.Second
	}
	allowed := int64(rps*window.Seconds()) + int64(burst)
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := "rl:" + limitKey(c)

		var incr *redis.IntCmd
		var ttl *redis.DurationCmd
		_, err := client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			incr = p.Incr(ctx, key)
			ttl = p.TTL(ctx, key)
			return nil
		})
		if err != nil {
			logger.Errorf("rate limit check failed: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Rate limit check failed"})
			return
		}
		remaining := ttl.Val()
		if remaining < 0 {
			// new window
			remaining = window
			if err := client.Expire(ctx, key, window).Err(); err != nil {
				logger.Warnf("rate limit expire %s: %v", key, err)
			}
		}
		if incr.Val() > allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(remaining.Round(time.Second).Seconds())))
			metrics.RateLimitRejected.WithLabelValues("redis").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "message": "Too many requests"})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("redis").Inc()
		c.Next()
	}
}
