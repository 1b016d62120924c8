package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/giftwise/internal/services"
)

var healthHTTPStatus = map[string]int{
	"healthy":   http.StatusOK,
	"degraded":  http.StatusOK,
	"unhealthy": http.StatusServiceUnavailable,
}

type HealthHandler struct {
	logger        *logrus.Logger
	healthService *services.HealthService
	startedAt     time.Time
}

func NewHealthHandler(logger *logrus.Logger, healthService *services.HealthService) *HealthHandler {
	return &HealthHandler{
		logger:        logger,
		healthService: healthService,
		startedAt:     time.Now(),
	}
}

// Check reports dependency health. A degraded service (cache or model
// provider down) still answers 200 because recommendations keep working.
func (h *HealthHandler) Check(c *gin.Context) {
	status := h.healthService.CheckHealth(c.Request.Context())

	httpStatus, ok := healthHTTPStatus[status.Status]
	if !ok {
		httpStatus = http.StatusInternalServerError
	}
	if httpStatus != http.StatusOK {
		h.logger.WithField("critical_failures", status.Critical).Warn("Health check failed")
	}

	c.JSON(httpStatus, status)
}

// Live only reports that the process is serving requests.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}
