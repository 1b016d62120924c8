package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/giftwise/internal/services"
)

type Handlers struct {
	Health         *HealthHandler
	Session        *SessionHandler
	Recommendation *RecommendationHandler
	Event          *EventHandler
}

func New(logger *logrus.Logger, services *services.Services) *Handlers {
	return &Handlers{
		Health:         NewHealthHandler(logger, services.Health),
		Session:        NewSessionHandler(services.Profiles, logger),
		Recommendation: NewRecommendationHandler(services.Orchestrator, logger),
		Event:          NewEventHandler(services.Recorder, logger),
	}
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// userIDFromContext returns the shopper id set by the optional auth
// middleware, or nil for anonymous requests.
func userIDFromContext(c *gin.Context) *string {
	value, ok := c.Get("user_id")
	if !ok {
		return nil
	}
	userID, ok := value.(string)
	if !ok || userID == "" {
		return nil
	}
	return &userID
}
