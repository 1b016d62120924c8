package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/temcen/giftwise/internal/config"
)

// CORS allows the storefront to call the API from the browser. Shopper
// tokens travel in the Authorization header, never in cookies, so
// credentials stay disabled.
func CORS(cfg *config.Config) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     cfg.Security.CORS.AllowedOrigins,
		AllowMethods:     cfg.Security.CORS.AllowedMethods,
		AllowHeaders:     cfg.Security.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", requestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}
