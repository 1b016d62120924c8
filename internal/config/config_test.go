package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RERANK_ENABLED", "true")
	t.Setenv("RECOMMENDATION_MAX_PER_RETAILER", "6")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.InDelta(t, 0.35, cfg.Recommendation.Weights.Quality, 1e-9)
	assert.InDelta(t, 1.3, cfg.Recommendation.VendorBoost, 1e-9)
	assert.InDelta(t, 0.2, cfg.Recommendation.InterestBoost, 1e-9)
	assert.Equal(t, 60, cfg.Recommendation.MaxResults)
	assert.Equal(t, 1500, cfg.Recommendation.ProfileTextLimit)
	assert.Equal(t, 3*time.Second, cfg.Recommendation.FetchTimeout)
	assert.Equal(t, 30, cfg.Rerank.MaxSlice)
	assert.Equal(t, "recommendation-events", cfg.Kafka.Topics.RecommendationEvents)

	// env overrides
	assert.True(t, cfg.Rerank.Enabled)
	assert.Equal(t, 6, cfg.Recommendation.MaxPerRetailer)
}

func TestDefaultRecommendationConfig_WeightsSumToOne(t *testing.T) {
	w := DefaultRecommendationConfig().Weights
	assert.InDelta(t, 1.0, w.Similarity+w.Quality+w.Recency+w.Popularity, 1e-9)
}
