package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/giftwise/internal/services"
)

// OptionalAuth identifies shoppers who send a bearer token. Requests without
// an Authorization header continue anonymously; a header that is present but
// malformed or invalid is rejected.
func OptionalAuth(shopperAuth *services.ShopperAuth, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || shopperAuth == nil || !shopperAuth.Enabled() {
			c.Next()
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "INVALID_AUTHORIZATION_FORMAT",
					"message": "Authorization header must be in format 'Bearer <token>'",
				},
			})
			return
		}

		claims, err := shopperAuth.ValidateToken(tokenParts[1])
		if err != nil {
			logger.WithError(err).Warn("Invalid shopper token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "INVALID_TOKEN",
					"message": "Invalid or expired token",
				},
			})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Next()
	}
}
