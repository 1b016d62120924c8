package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/giftwise/internal/services"
	"github.com/temcen/giftwise/pkg/models"
)

type SessionHandler struct {
	profiles services.SessionProfiles
	logger   *logrus.Logger
}

func NewSessionHandler(profiles services.SessionProfiles, logger *logrus.Logger) *SessionHandler {
	return &SessionHandler{
		profiles: profiles,
		logger:   logger,
	}
}

// BuildProfile creates or rebuilds the preference profile of a session.
func (h *SessionHandler) BuildProfile(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if !validSessionID(sessionID) {
		respondError(c, http.StatusBadRequest, "INVALID_SESSION_ID", "Session ID must be 1-128 characters")
		return
	}

	var req models.SessionProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", err.Error())
		return
	}

	profile, err := h.profiles.Build(c.Request.Context(), sessionID, userIDFromContext(c), req.Text, models.SessionConstraints{
		Interests:   req.Interests,
		ExcludedIDs: req.ExcludeIDs,
	})
	if err != nil {
		respondError(c, http.StatusBadRequest, "PROFILE_BUILD_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, profileResponse(profile))
}

func (h *SessionHandler) GetProfile(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if !validSessionID(sessionID) {
		respondError(c, http.StatusBadRequest, "INVALID_SESSION_ID", "Session ID must be 1-128 characters")
		return
	}

	profile, err := h.profiles.Load(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			respondError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found")
			return
		}
		h.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to load session profile")
		respondError(c, http.StatusInternalServerError, "PROFILE_LOAD_FAILED", "Failed to load session profile")
		return
	}

	c.JSON(http.StatusOK, profileResponse(profile))
}

func profileResponse(profile *models.SessionProfile) models.SessionProfileResponse {
	interests := profile.Constraints.Interests
	if interests == nil {
		interests = []string{}
	}
	return models.SessionProfileResponse{
		SessionID:    profile.SessionID,
		HasEmbedding: profile.HasEmbedding(),
		Interests:    interests,
		ExcludedIDs:  len(profile.Constraints.ExcludedIDs),
		SeenIDs:      len(profile.Constraints.SeenIDs),
		UpdatedAt:    profile.UpdatedAt,
	}
}
