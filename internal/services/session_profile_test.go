package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/giftwise/internal/config"
	"github.com/temcen/giftwise/pkg/models"
)

type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Upsert(ctx context.Context, profile *models.SessionProfile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func (m *MockSessionStore) FindByID(ctx context.Context, sessionID string) (*models.SessionProfile, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SessionProfile), args.Error(1)
}

func (m *MockSessionStore) AppendSeenIDs(ctx context.Context, sessionID string, ids []string) error {
	args := m.Called(ctx, sessionID, ids)
	return args.Error(0)
}

func (m *MockSessionStore) AppendExcludedIDs(ctx context.Context, sessionID string, ids []string) error {
	args := m.Called(ctx, sessionID, ids)
	return args.Error(0)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockProfileCache struct {
	mock.Mock
}

func (m *MockProfileCache) Get(ctx context.Context, sessionID string) (*models.SessionProfile, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SessionProfile), args.Error(1)
}

func (m *MockProfileCache) Version(ctx context.Context, sessionID string) (int64, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockProfileCache) SetIfVersion(ctx context.Context, profile *models.SessionProfile, version int64) error {
	args := m.Called(ctx, profile, version)
	return args.Error(0)
}

func (m *MockProfileCache) Invalidate(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func newTestProfileManager(store SessionStore, embedder Embedder) *SessionProfileManager {
	cfg := config.DefaultRecommendationConfig()
	return NewSessionProfileManager(store, embedder, nil, &cfg, nil, newTestLogger())
}

func TestSessionProfileManager_BuildNewSession(t *testing.T) {
	store := new(MockSessionStore)
	embedder := new(MockEmbedder)
	manager := newTestProfileManager(store, embedder)

	store.On("FindByID", mock.Anything, "sess-1").Return(nil, ErrSessionNotFound)
	embedder.On("Embed", mock.Anything, "gifts for a runner").Return([]float32{0.3, 0.4}, nil)
	store.On("Upsert", mock.Anything, mock.MatchedBy(func(p *models.SessionProfile) bool {
		return p.SessionID == "sess-1" && len(p.Embedding) == 2
	})).Return(nil)

	profile, err := manager.Build(context.Background(), "sess-1", nil, "  gifts for a runner ", models.SessionConstraints{
		Interests:   []string{"running", "running", ""},
		ExcludedIDs: []string{"p7"},
	})
	require.NoError(t, err)

	assert.True(t, profile.HasEmbedding())
	assert.Equal(t, "gifts for a runner", profile.FreeText)
	assert.Equal(t, []string{"running"}, profile.Constraints.Interests)
	assert.Equal(t, []string{"p7"}, profile.Constraints.ExcludedIDs)
	store.AssertExpectations(t)
	embedder.AssertExpectations(t)
}

func TestSessionProfileManager_BuildEmbeddingFailure(t *testing.T) {
	store := new(MockSessionStore)
	embedder := new(MockEmbedder)
	manager := newTestProfileManager(store, embedder)

	existing := models.NewSessionProfile("sess-1")
	existing.Embedding = []float32{0.9}
	existing.Constraints.SeenIDs = []string{"p1", "p2"}
	existing.Constraints.Interests = []string{"tea"}

	store.On("FindByID", mock.Anything, "sess-1").Return(existing, nil)
	embedder.On("Embed", mock.Anything, "something new").Return(nil, errors.New("provider down"))
	store.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	profile, err := manager.Build(context.Background(), "sess-1", nil, "something new", models.SessionConstraints{
		Interests: []string{"books"},
	})
	require.NoError(t, err)

	assert.False(t, profile.HasEmbedding())
	assert.Equal(t, []string{"tea", "books"}, profile.Constraints.Interests)
	assert.Equal(t, []string{"p1", "p2"}, profile.Constraints.SeenIDs)
}

func TestSessionProfileManager_BuildDoesNotPersistAfterLoadFailure(t *testing.T) {
	store := new(MockSessionStore)
	embedder := new(MockEmbedder)
	manager := newTestProfileManager(store, embedder)

	store.On("FindByID", mock.Anything, "sess-1").Return(nil, errors.New("conn reset"))

	profile, err := manager.Build(context.Background(), "sess-1", nil, "", models.SessionConstraints{
		Interests: []string{"tea"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"tea"}, profile.Constraints.Interests)
	store.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestSessionProfileManager_BuildTruncatesText(t *testing.T) {
	store := new(MockSessionStore)
	embedder := new(MockEmbedder)
	manager := newTestProfileManager(store, embedder)

	long := strings.Repeat("é", 2000)

	store.On("FindByID", mock.Anything, "sess-1").Return(nil, ErrSessionNotFound)
	embedder.On("Embed", mock.Anything, mock.MatchedBy(func(text string) bool {
		return utf8.RuneCountInString(text) == 1500
	})).Return([]float32{1}, nil)
	store.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	_, err := manager.Build(context.Background(), "sess-1", nil, long, models.SessionConstraints{})
	require.NoError(t, err)
	embedder.AssertExpectations(t)
}

func TestSessionProfileManager_BuildEmptyTextSkipsEmbedding(t *testing.T) {
	store := new(MockSessionStore)
	embedder := new(MockEmbedder)
	manager := newTestProfileManager(store, embedder)

	store.On("FindByID", mock.Anything, "sess-1").Return(nil, ErrSessionNotFound)
	store.On("Upsert", mock.Anything, mock.Anything).Return(errors.New("db down"))

	profile, err := manager.Build(context.Background(), "sess-1", nil, "   ", models.SessionConstraints{})
	require.NoError(t, err, "persistence failures are swallowed")
	assert.False(t, profile.HasEmbedding())
	embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestSessionProfileManager_BuildRequiresSessionID(t *testing.T) {
	manager := newTestProfileManager(new(MockSessionStore), new(MockEmbedder))

	_, err := manager.Build(context.Background(), " ", nil, "text", models.SessionConstraints{})
	assert.Error(t, err)
}

func TestSessionProfileManager_Load(t *testing.T) {
	store := new(MockSessionStore)
	manager := newTestProfileManager(store, nil)

	store.On("FindByID", mock.Anything, "missing").Return(nil, ErrSessionNotFound)
	store.On("FindByID", mock.Anything, "sess-1").Return(models.NewSessionProfile("sess-1"), nil)

	_, err := manager.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	profile, err := manager.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", profile.SessionID)
}

func TestSessionProfileManager_LoadServesCacheHit(t *testing.T) {
	store := new(MockSessionStore)
	cache := new(MockProfileCache)
	cfg := config.DefaultRecommendationConfig()
	manager := NewSessionProfileManager(store, nil, cache, &cfg, nil, newTestLogger())

	cached := models.NewSessionProfile("sess-1")
	cached.Constraints.SeenIDs = []string{"p1"}
	cache.On("Get", mock.Anything, "sess-1").Return(cached, nil)

	profile, err := manager.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, profile.Constraints.SeenIDs)
	store.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestSessionProfileManager_LoadFillsWithVersionReadBeforeSource(t *testing.T) {
	store := new(MockSessionStore)
	cache := new(MockProfileCache)
	cfg := config.DefaultRecommendationConfig()
	manager := NewSessionProfileManager(store, nil, cache, &cfg, nil, newTestLogger())

	var calls []string
	stored := models.NewSessionProfile("sess-1")

	cache.On("Get", mock.Anything, "sess-1").Return(nil, nil)
	cache.On("Version", mock.Anything, "sess-1").Run(func(mock.Arguments) {
		calls = append(calls, "version")
	}).Return(int64(4), nil)
	store.On("FindByID", mock.Anything, "sess-1").Run(func(mock.Arguments) {
		calls = append(calls, "find")
	}).Return(stored, nil)
	// A concurrent append bumped the version, so the fill is rejected.
	cache.On("SetIfVersion", mock.Anything, stored, int64(4)).Return(errStaleProfile)

	profile, err := manager.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Same(t, stored, profile)
	assert.Equal(t, []string{"version", "find"}, calls)
	cache.AssertExpectations(t)
}

func TestSessionProfileManager_LoadSkipsFillWithoutVersion(t *testing.T) {
	store := new(MockSessionStore)
	cache := new(MockProfileCache)
	cfg := config.DefaultRecommendationConfig()
	manager := NewSessionProfileManager(store, nil, cache, &cfg, nil, newTestLogger())

	cache.On("Get", mock.Anything, "sess-1").Return(nil, errors.New("redis down"))
	cache.On("Version", mock.Anything, "sess-1").Return(int64(0), errors.New("redis down"))
	store.On("FindByID", mock.Anything, "sess-1").Return(models.NewSessionProfile("sess-1"), nil)

	_, err := manager.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	cache.AssertNotCalled(t, "SetIfVersion", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionProfileManager_WritesInvalidateCache(t *testing.T) {
	store := new(MockSessionStore)
	cache := new(MockProfileCache)
	cfg := config.DefaultRecommendationConfig()
	manager := NewSessionProfileManager(store, nil, cache, &cfg, nil, newTestLogger())

	store.On("AppendSeenIDs", mock.Anything, "sess-1", []string{"p1"}).Return(nil)
	store.On("AppendExcludedIDs", mock.Anything, "sess-1", []string{"p2"}).Return(nil)
	cache.On("Invalidate", mock.Anything, "sess-1").Return(nil)

	manager.AppendSeenIDs(context.Background(), "sess-1", []string{"p1"})
	require.NoError(t, manager.ApplyFeedback(context.Background(), "sess-1", "p2", models.ActionDislike))

	cache.AssertNumberOfCalls(t, "Invalidate", 2)
}

func TestSessionProfileManager_AppendSeenIDs(t *testing.T) {
	store := new(MockSessionStore)
	manager := newTestProfileManager(store, nil)

	manager.AppendSeenIDs(context.Background(), "sess-1", nil)
	store.AssertNotCalled(t, "AppendSeenIDs", mock.Anything, mock.Anything, mock.Anything)

	store.On("AppendSeenIDs", mock.Anything, "sess-1", []string{"p1"}).Return(errors.New("timeout"))
	assert.NotPanics(t, func() {
		manager.AppendSeenIDs(context.Background(), "sess-1", []string{"p1"})
	})
	store.AssertExpectations(t)
}

func TestSessionProfileManager_ApplyFeedback(t *testing.T) {
	store := new(MockSessionStore)
	manager := newTestProfileManager(store, nil)

	store.On("AppendExcludedIDs", mock.Anything, "sess-1", []string{"p3"}).Return(nil)

	require.NoError(t, manager.ApplyFeedback(context.Background(), "sess-1", "p3", models.ActionDislike))
	require.NoError(t, manager.ApplyFeedback(context.Background(), "sess-1", "p4", models.ActionLike))

	store.AssertNumberOfCalls(t, "AppendExcludedIDs", 1)
}

func TestMergeIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, mergeIDs([]string{"a", "b"}, []string{"b", " c ", ""}))
	assert.Empty(t, mergeIDs(nil, nil))
}
