package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/giftwise/internal/config"
	"github.com/temcen/giftwise/pkg/models"
)

// SessionProfileManager derives, persists and caches per-session preference
// profiles. The cache is optional; Postgres is the source of truth.
type SessionProfileManager struct {
	store    SessionStore
	embedder Embedder
	cache    ProfileCache
	config   *config.RecommendationConfig
	metrics  *PipelineMetrics
	logger   *logrus.Logger
}

func NewSessionProfileManager(
	store SessionStore,
	embedder Embedder,
	cache ProfileCache,
	config *config.RecommendationConfig,
	metrics *PipelineMetrics,
	logger *logrus.Logger,
) *SessionProfileManager {
	return &SessionProfileManager{
		store:    store,
		embedder: embedder,
		cache:    cache,
		config:   config,
		metrics:  metrics,
		logger:   logger,
	}
}

// Build creates or rebuilds a session profile. A new embedding replaces the
// old one when text is given; an embedding failure leaves the profile
// without one. Constraints are merged into whatever is already stored and
// seen ids are carried over untouched. When the stored profile cannot be
// read the result is built in memory only and not persisted, so stored
// constraints are never overwritten from an empty base. Persistence
// failures are logged and the in-memory profile is still returned.
func (m *SessionProfileManager) Build(
	ctx context.Context,
	sessionID string,
	userID *string,
	freeText string,
	constraints models.SessionConstraints,
) (*models.SessionProfile, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}

	persist := true
	profile, err := m.store.FindByID(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			m.metrics.SideEffectError("session_load")
			m.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to load existing session, profile will not be persisted")
			persist = false
		}
		profile = models.NewSessionProfile(sessionID)
	}

	if userID != nil {
		profile.UserID = userID
	}

	text := truncateRunes(strings.TrimSpace(freeText), m.config.ProfileTextLimit)
	if text != "" {
		profile.FreeText = text
		profile.Embedding = m.embed(ctx, sessionID, text)
	}

	profile.Constraints.Interests = mergeIDs(profile.Constraints.Interests, constraints.Interests)
	profile.Constraints.ExcludedIDs = mergeIDs(profile.Constraints.ExcludedIDs, constraints.ExcludedIDs)
	profile.Constraints.SeenIDs = mergeIDs(profile.Constraints.SeenIDs, constraints.SeenIDs)
	profile.UpdatedAt = time.Now().UTC()

	if persist {
		if err := m.store.Upsert(ctx, profile); err != nil {
			m.metrics.SideEffectError("session_upsert")
			m.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to persist session profile")
		}
		m.invalidate(ctx, sessionID)
	}

	m.logger.WithFields(logrus.Fields{
		"session_id":    sessionID,
		"has_embedding": profile.HasEmbedding(),
		"interests":     len(profile.Constraints.Interests),
		"excluded":      len(profile.Constraints.ExcludedIDs),
	}).Debug("Session profile built")

	return profile, nil
}

func (m *SessionProfileManager) embed(ctx context.Context, sessionID, text string) []float32 {
	if m.embedder == nil {
		return nil
	}

	embedding, err := m.embedder.Embed(ctx, text)
	if err != nil {
		m.logger.WithError(err).WithField("session_id", sessionID).Warn("Embedding provider failed, ranking by heuristics only")
		return nil
	}
	return embedding
}

// Load returns ErrSessionNotFound when the session has no profile yet.
func (m *SessionProfileManager) Load(ctx context.Context, sessionID string) (*models.SessionProfile, error) {
	if m.cache == nil {
		return m.store.FindByID(ctx, sessionID)
	}

	profile, err := m.cache.Get(ctx, sessionID)
	if err != nil {
		m.logger.WithError(err).Debug("Session profile cache read failed")
	}
	if profile != nil {
		return profile, nil
	}

	// The version is read before the source so a write landing in between
	// makes the fill below a no-op.
	version, versionErr := m.cache.Version(ctx, sessionID)

	profile, err = m.store.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if versionErr != nil {
		m.logger.WithError(versionErr).Debug("Session profile cache version unavailable, skipping fill")
		return profile, nil
	}
	if err := m.cache.SetIfVersion(ctx, profile, version); err != nil && !errors.Is(err, errStaleProfile) {
		m.logger.WithError(err).Debug("Session profile cache write failed")
	}
	return profile, nil
}

// AppendSeenIDs grows the seen set. Errors are logged, never returned.
func (m *SessionProfileManager) AppendSeenIDs(ctx context.Context, sessionID string, ids []string) {
	if len(ids) == 0 {
		return
	}

	if err := m.store.AppendSeenIDs(ctx, sessionID, ids); err != nil {
		m.metrics.SideEffectError("seen_ids")
		m.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"count":      len(ids),
		}).Warn("Failed to append seen ids")
		return
	}
	m.invalidate(ctx, sessionID)
}

// ApplyFeedback folds an interaction into the session. A dislike excludes
// the product for the rest of the session; other actions do not change the
// profile.
func (m *SessionProfileManager) ApplyFeedback(ctx context.Context, sessionID, productID string, action models.EventAction) error {
	if action != models.ActionDislike || productID == "" {
		return nil
	}

	if err := m.store.AppendExcludedIDs(ctx, sessionID, []string{productID}); err != nil {
		return fmt.Errorf("failed to exclude disliked product: %w", err)
	}
	m.invalidate(ctx, sessionID)
	return nil
}

func (m *SessionProfileManager) invalidate(ctx context.Context, sessionID string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, sessionID); err != nil {
		m.logger.WithError(err).WithField("session_id", sessionID).Warn("Session profile cache invalidation failed")
	}
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// mergeIDs returns the order-preserving union of existing and added,
// dropping blanks.
func mergeIDs(existing, added []string) []string {
	merged := make([]string, 0, len(existing)+len(added))
	seen := make(map[string]struct{}, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, id := range list {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	return merged
}
