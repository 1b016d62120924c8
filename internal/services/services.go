package services

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/giftwise/internal/config"
	"github.com/temcen/giftwise/internal/database"
	"github.com/temcen/giftwise/internal/messaging"
	"github.com/temcen/giftwise/internal/ml"
	"github.com/temcen/giftwise/internal/validation"
)

type Services struct {
	Auth           *ShopperAuth
	Health         *HealthService
	RateLimiter    *KeyedLimiter
	Metrics        *PipelineMetrics
	Profiles       *SessionProfileManager
	Recorder       *EventRecorder
	Orchestrator   *RecommendationOrchestrator
	Validator      *validation.SchemaValidator
	EventPublisher *messaging.EventPublisher
	Provider       *ml.ProviderClient

	snapshots *TTLCache[RankedSnapshot]
	logger    *logrus.Logger
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database) (*Services, error) {
	metrics := NewPipelineMetrics(prometheus.DefaultRegisterer, logger)

	validator, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}

	// Both model-backed stages degrade gracefully, so a missing provider only
	// disables them.
	var (
		embedder  Embedder
		completer ChatCompleter
	)
	provider, err := ml.NewProviderClient(cfg.Providers, logger)
	if err != nil {
		logger.WithError(err).Warn("Model provider not configured, ranking by heuristics only")
		provider = nil
	} else {
		embedder = ml.NewCachedEmbedder(provider, db.Redis, cfg.Providers.EmbeddingModel, 24*time.Hour, logger)
		completer = provider
	}

	var profileCache ProfileCache
	if db.Redis != nil && cfg.Cache.ProfileTTL > 0 {
		profileCache = NewRedisProfileCache(db.Redis, cfg.Cache.ProfileTTL)
	}
	profiles := NewSessionProfileManager(
		NewPostgresSessionStore(db.PG), embedder, profileCache,
		&cfg.Recommendation, metrics, logger,
	)

	var publisher EventPublisher
	eventPublisher, err := messaging.NewEventPublisher(cfg, logger)
	if err != nil {
		logger.WithError(err).Info("Event publishing disabled")
		eventPublisher = nil
	} else {
		publisher = eventPublisher
	}

	recorder := NewEventRecorder(NewPostgresEventStore(db.PG), EventRecorderOptions{
		Publisher:    publisher,
		Feedback:     profiles,
		Validator:    validator,
		QueueSize:    cfg.Events.QueueSize,
		WriteTimeout: cfg.Events.WriteTimeout,
	}, metrics, logger)

	snapshots, err := NewTTLCache[RankedSnapshot](cfg.Cache.MaxEntries, cfg.Cache.TTL)
	if err != nil {
		recorder.Close()
		return nil, err
	}

	orchestrator := NewRecommendationOrchestrator(
		profiles,
		NewCandidateStore(db.PG, &cfg.Recommendation, metrics, logger),
		NewRankingEngine(cfg.Recommendation),
		NewReranker(completer, validator, cfg.Rerank, metrics, logger),
		recorder,
		snapshots,
		&cfg.Recommendation,
		cfg.Rerank.TopN,
		metrics,
		logger,
	)

	limiter := NewKeyedLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window, cfg.RateLimit.IdleTTL)
	limiter.StartCleanup(time.Minute)

	health := NewHealthService(
		map[string]HealthCheck{
			"postgresql": db.PG.Ping,
		},
		dependencyChecks(db, provider),
		prometheus.DefaultRegisterer,
		logger,
	)

	return &Services{
		Auth:           NewShopperAuth(cfg.Auth, logger),
		Health:         health,
		RateLimiter:    limiter,
		Metrics:        metrics,
		Profiles:       profiles,
		Recorder:       recorder,
		Orchestrator:   orchestrator,
		Validator:      validator,
		EventPublisher: eventPublisher,
		Provider:       provider,
		snapshots:      snapshots,
		logger:         logger,
	}, nil
}

func dependencyChecks(db *database.Database, provider *ml.ProviderClient) map[string]HealthCheck {
	checks := make(map[string]HealthCheck)
	if db.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return db.Redis.Ping(ctx).Err()
		}
	}
	if provider != nil {
		checks["model_provider"] = func(context.Context) error {
			for endpoint, state := range provider.BreakerStates() {
				if state == "open" {
					return fmt.Errorf("%s circuit breaker open", endpoint)
				}
			}
			return nil
		}
	}
	return checks
}

// Close waits for in-flight background work and flushes queued events.
func (s *Services) Close() {
	s.Orchestrator.Wait()
	s.Recorder.Close()

	if s.EventPublisher != nil {
		if err := s.EventPublisher.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close event publisher")
		}
	}

	s.RateLimiter.Stop()
	s.snapshots.Close()
}
