package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/giftwise/internal/services"
	"github.com/temcen/giftwise/pkg/models"
)

type RecommendationHandler struct {
	orchestrator services.RecommendationOrchestratorInterface
	logger       *logrus.Logger
}

func NewRecommendationHandler(
	orchestrator services.RecommendationOrchestratorInterface,
	logger *logrus.Logger,
) *RecommendationHandler {
	return &RecommendationHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Get serves one page of recommendations. Pipeline failures surface as an
// empty page, so only malformed input is rejected here.
func (h *RecommendationHandler) Get(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if !validSessionID(sessionID) {
		respondError(c, http.StatusBadRequest, "INVALID_SESSION_ID", "Session ID must be 1-128 characters")
		return
	}

	page, ok := queryInt(c, "page")
	if !ok {
		respondError(c, http.StatusBadRequest, "INVALID_PAGE", "page must be a non-negative integer")
		return
	}

	pageSize, ok := queryInt(c, "page_size")
	if !ok {
		respondError(c, http.StatusBadRequest, "INVALID_PAGE_SIZE", "page_size must be a non-negative integer")
		return
	}

	country := strings.ToUpper(strings.TrimSpace(c.Query("country")))
	if country != "" && len(country) != 2 {
		respondError(c, http.StatusBadRequest, "INVALID_COUNTRY", "country must be an ISO 3166-1 alpha-2 code")
		return
	}

	result := h.orchestrator.GetRecommendations(c.Request.Context(), &models.RecommendationRequest{
		SessionID: sessionID,
		UserID:    userIDFromContext(c),
		Page:      page,
		PageSize:  pageSize,
		Country:   country,
	})
	if result == nil {
		result = models.EmptyPage(page)
	}

	c.JSON(http.StatusOK, result)
}

// queryInt reads an optional non-negative integer query parameter. A missing
// parameter yields zero, which the orchestrator replaces with its default.
func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}
