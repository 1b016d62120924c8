package ml

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// TextEmbedder produces an embedding for a single text.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CachedEmbedder L2-normalises embeddings from the provider and caches them
// in Redis by model and content hash, so rebuilding a profile with the same
// text costs no provider call. A nil Redis client disables caching.
type CachedEmbedder struct {
	next        TextEmbedder
	redisClient *redis.Client
	model       string
	cacheTTL    time.Duration
	cachePrefix string
	logger      *logrus.Logger
}

func NewCachedEmbedder(next TextEmbedder, redisClient *redis.Client, model string, cacheTTL time.Duration, logger *logrus.Logger) *CachedEmbedder {
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &CachedEmbedder{
		next:        next,
		redisClient: redisClient,
		model:       model,
		cacheTTL:    cacheTTL,
		cachePrefix: "embedding:text",
		logger:      logger,
	}
}

func (ce *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("cannot embed empty text")
	}

	if embedding, ok := ce.getCachedEmbedding(ctx, text); ok {
		return embedding, nil
	}

	embedding, err := ce.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	embedding = l2Normalize(embedding)
	ce.cacheEmbedding(ctx, text, embedding)

	return embedding, nil
}

func (ce *CachedEmbedder) getCachedEmbedding(ctx context.Context, text string) ([]float32, bool) {
	if ce.redisClient == nil {
		return nil, false
	}

	key := ce.generateCacheKey(text)
	result, err := ce.redisClient.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}

	var embedding []float32
	if err := json.Unmarshal([]byte(result), &embedding); err != nil {
		ce.logger.WithFields(logrus.Fields{
			"error": err.Error(),
			"key":   key,
		}).Warn("Failed to deserialize cached embedding")
		return nil, false
	}

	return embedding, true
}

func (ce *CachedEmbedder) cacheEmbedding(ctx context.Context, text string, embedding []float32) {
	if ce.redisClient == nil {
		return
	}

	key := ce.generateCacheKey(text)
	data, err := json.Marshal(embedding)
	if err != nil {
		return
	}

	if err := ce.redisClient.Set(ctx, key, data, ce.cacheTTL).Err(); err != nil {
		ce.logger.WithFields(logrus.Fields{
			"error": err.Error(),
			"key":   key,
		}).Warn("Failed to cache embedding")
	}
}

// generateCacheKey is prefix:model:first 16 hex chars of sha256(text).
func (ce *CachedEmbedder) generateCacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:%s:%x", ce.cachePrefix, ce.model, sum[:8])
}

func l2Normalize(embedding []float32) []float32 {
	vec := make([]float64, len(embedding))
	for i, v := range embedding {
		vec[i] = float64(v)
	}

	norm := floats.Norm(vec, 2)
	if norm == 0 {
		return embedding
	}

	normalized := make([]float32, len(embedding))
	for i, v := range vec {
		normalized[i] = float32(v / norm)
	}
	return normalized
}
