package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/giftwise/internal/services"
)

// RateLimit throttles per authenticated user and per client IP otherwise.
// Session ids are client-chosen, so they never pick the bucket.
func RateLimit(limiter *services.KeyedLimiter, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rateLimitKey(c)

		allowed := limiter.Allow(key)

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(key)))

		if !allowed {
			logger.WithFields(logrus.Fields{
				"key":   key,
				"limit": limiter.Limit(),
				"path":  c.FullPath(),
			}).Warn("Rate limit exceeded")

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Rate limit exceeded. Please try again later.",
				},
			})
			return
		}

		c.Next()
	}
}

func rateLimitKey(c *gin.Context) string {
	if userID := c.GetString("user_id"); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}
