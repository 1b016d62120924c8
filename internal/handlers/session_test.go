package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/giftwise/internal/services"
	"github.com/temcen/giftwise/pkg/models"
)

type MockSessionProfiles struct {
	mock.Mock
}

func (m *MockSessionProfiles) Build(ctx context.Context, sessionID string, userID *string, freeText string, constraints models.SessionConstraints) (*models.SessionProfile, error) {
	args := m.Called(ctx, sessionID, userID, freeText, constraints)
	if profile := args.Get(0); profile != nil {
		return profile.(*models.SessionProfile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionProfiles) Load(ctx context.Context, sessionID string) (*models.SessionProfile, error) {
	args := m.Called(ctx, sessionID)
	if profile := args.Get(0); profile != nil {
		return profile.(*models.SessionProfile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionProfiles) AppendSeenIDs(ctx context.Context, sessionID string, ids []string) {
	m.Called(ctx, sessionID, ids)
}

func sessionRouter(handler *SessionHandler) *gin.Engine {
	router := gin.New()
	router.POST("/api/v1/sessions/:sessionId/profile", handler.BuildProfile)
	router.GET("/api/v1/sessions/:sessionId/profile", handler.GetProfile)
	return router
}

func TestSessionHandler_BuildProfile(t *testing.T) {
	gin.SetMode(gin.TestMode)

	updatedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	built := &models.SessionProfile{
		SessionID: "sess-1",
		FreeText:  "gift for a coffee lover",
		Embedding: []float32{0.1, 0.2},
		Constraints: models.SessionConstraints{
			Interests:   []string{"coffee"},
			ExcludedIDs: []string{"p-9"},
			SeenIDs:     []string{"p-1", "p-2"},
		},
		UpdatedAt: updatedAt,
	}

	profiles := new(MockSessionProfiles)
	profiles.On("Build", mock.Anything, "sess-1", (*string)(nil), "gift for a coffee lover", models.SessionConstraints{
		Interests:   []string{"coffee"},
		ExcludedIDs: []string{"p-9"},
	}).Return(built, nil)

	body, _ := json.Marshal(models.SessionProfileRequest{
		Text:       "gift for a coffee lover",
		Interests:  []string{"coffee"},
		ExcludeIDs: []string{"p-9"},
	})
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/sessions/sess-1/profile", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	sessionRouter(NewSessionHandler(profiles, testLogger())).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SessionProfileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.True(t, resp.HasEmbedding)
	assert.Equal(t, []string{"coffee"}, resp.Interests)
	assert.Equal(t, 1, resp.ExcludedIDs)
	assert.Equal(t, 2, resp.SeenIDs)
	assert.True(t, updatedAt.Equal(resp.UpdatedAt))
	profiles.AssertExpectations(t)
}

func TestSessionHandler_BuildProfileRejectsInvalidInput(t *testing.T) {
	gin.SetMode(gin.TestMode)

	longID := string(bytes.Repeat([]byte("s"), 129))

	tests := []struct {
		name         string
		path         string
		body         string
		expectedCode string
	}{
		{"malformed json", "/api/v1/sessions/sess-1/profile", `{"text":`, "INVALID_REQUEST_BODY"},
		{"oversized session id", "/api/v1/sessions/" + longID + "/profile", `{"text":"x"}`, "INVALID_SESSION_ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profiles := new(MockSessionProfiles)

			req, _ := http.NewRequest(http.MethodPost, tt.path, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			sessionRouter(NewSessionHandler(profiles, testLogger())).ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.expectedCode, errorCode(t, w))
			profiles.AssertNotCalled(t, "Build", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSessionHandler_GetProfile(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		profile        *models.SessionProfile
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "existing session",
			profile:        &models.SessionProfile{SessionID: "sess-1"},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "unknown session",
			err:            services.ErrSessionNotFound,
			expectedStatus: http.StatusNotFound,
			expectedCode:   "SESSION_NOT_FOUND",
		},
		{
			name:           "store failure",
			err:            errors.New("connection refused"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   "PROFILE_LOAD_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profiles := new(MockSessionProfiles)
			if tt.profile != nil {
				profiles.On("Load", mock.Anything, "sess-1").Return(tt.profile, nil)
			} else {
				profiles.On("Load", mock.Anything, "sess-1").Return(nil, tt.err)
			}

			req, _ := http.NewRequest(http.MethodGet, "/api/v1/sessions/sess-1/profile", nil)
			w := httptest.NewRecorder()
			sessionRouter(NewSessionHandler(profiles, testLogger())).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, errorCode(t, w))
			} else {
				var resp models.SessionProfileResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.False(t, resp.HasEmbedding)
				assert.Equal(t, []string{}, resp.Interests)
			}
		})
	}
}

func TestValidSessionID(t *testing.T) {
	assert.True(t, validSessionID("5f0c2a9e-sess"))
	assert.False(t, validSessionID(""))
	assert.False(t, validSessionID("has space"))
	assert.False(t, validSessionID("tab\there"))
	assert.False(t, validSessionID(string(bytes.Repeat([]byte("a"), maxSessionIDLength+1))))
}
