package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/giftwise/internal/services"
	"github.com/temcen/giftwise/pkg/models"
)

type EventHandler struct {
	recorder services.Recorder
	logger   *logrus.Logger
}

func NewEventHandler(recorder services.Recorder, logger *logrus.Logger) *EventHandler {
	return &EventHandler{
		recorder: recorder,
		logger:   logger,
	}
}

// Record accepts a shopper interaction. The write happens in the background;
// 202 only means the event was valid and queued.
func (h *EventHandler) Record(c *gin.Context) {
	var req models.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", err.Error())
		return
	}

	if err := h.recorder.RecordAction(&req, userIDFromContext(c)); err != nil {
		if errors.Is(err, services.ErrInvalidEvent) {
			respondError(c, http.StatusBadRequest, "INVALID_EVENT", err.Error())
			return
		}
		h.logger.WithError(err).WithField("session_id", req.SessionID).Warn("Failed to queue event")
		respondError(c, http.StatusServiceUnavailable, "EVENT_NOT_ACCEPTED", "Event could not be accepted")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
