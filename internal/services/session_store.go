package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/temcen/giftwise/pkg/models"
)

// ErrSessionNotFound is returned when no profile exists for a session id.
var ErrSessionNotFound = errors.New("session profile not found")

// PostgresSessionStore persists session profiles in recommendation_sessions.
// Every write is a single auto-committed statement.
type PostgresSessionStore struct {
	db DatabaseExecutor
}

func NewPostgresSessionStore(db DatabaseExecutor) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

// upsertSessionSQL merges interests and exclusions into the stored arrays
// with first-seen order, so an id appended by another writer between a read
// and this upsert survives. A NULL embedding for unchanged text keeps the
// stored vector.
var upsertSessionSQL = fmt.Sprintf(`
		INSERT INTO recommendation_sessions
			(session_id, user_id, free_text, embedding, interests, excluded_ids, seen_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			user_id = COALESCE(EXCLUDED.user_id, recommendation_sessions.user_id),
			free_text = EXCLUDED.free_text,
			embedding = CASE
				WHEN EXCLUDED.free_text = recommendation_sessions.free_text
					THEN COALESCE(EXCLUDED.embedding, recommendation_sessions.embedding)
				ELSE EXCLUDED.embedding
			END,
			interests = %[1]s,
			excluded_ids = %[2]s,
			updated_at = EXCLUDED.updated_at`,
	mergeColumnSQL("interests"),
	mergeColumnSQL("excluded_ids"),
)

func mergeColumnSQL(column string) string {
	return fmt.Sprintf(`ARRAY(
				SELECT id FROM unnest(recommendation_sessions.%[1]s || EXCLUDED.%[1]s) WITH ORDINALITY AS t(id, ord)
				GROUP BY id
				ORDER BY MIN(ord)
			)`, column)
}

// Upsert creates or refreshes a profile. seen_ids is only ever grown through
// AppendSeenIDs, so the update path leaves it alone.
func (s *PostgresSessionStore) Upsert(ctx context.Context, profile *models.SessionProfile) error {
	_, err := s.db.Exec(ctx, upsertSessionSQL,
		profile.SessionID,
		profile.UserID,
		profile.FreeText,
		embeddingArg(profile.Embedding),
		nonNilStrings(profile.Constraints.Interests),
		nonNilStrings(profile.Constraints.ExcludedIDs),
		nonNilStrings(profile.Constraints.SeenIDs),
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", profile.SessionID, err)
	}
	return nil
}

func (s *PostgresSessionStore) FindByID(ctx context.Context, sessionID string) (*models.SessionProfile, error) {
	profile := &models.SessionProfile{}

	err := s.db.QueryRow(ctx, `
		SELECT session_id, user_id, free_text, embedding::real[],
			interests, excluded_ids, seen_ids, created_at, updated_at
		FROM recommendation_sessions
		WHERE session_id = $1`,
		sessionID,
	).Scan(
		&profile.SessionID,
		&profile.UserID,
		&profile.FreeText,
		&profile.Embedding,
		&profile.Constraints.Interests,
		&profile.Constraints.ExcludedIDs,
		&profile.Constraints.SeenIDs,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	return profile, nil
}

// appendColumnSQL unions ids into an array column, keeping first-seen order.
const appendColumnSQL = `
		UPDATE recommendation_sessions
		SET %[1]s = ARRAY(
				SELECT id FROM unnest(%[1]s || $2::text[]) WITH ORDINALITY AS t(id, ord)
				GROUP BY id
				ORDER BY MIN(ord)
			),
			updated_at = $3
		WHERE session_id = $1`

func (s *PostgresSessionStore) AppendSeenIDs(ctx context.Context, sessionID string, ids []string) error {
	return s.appendIDs(ctx, "seen_ids", sessionID, ids)
}

func (s *PostgresSessionStore) AppendExcludedIDs(ctx context.Context, sessionID string, ids []string) error {
	return s.appendIDs(ctx, "excluded_ids", sessionID, ids)
}

func (s *PostgresSessionStore) appendIDs(ctx context.Context, column, sessionID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tag, err := s.db.Exec(ctx, fmt.Sprintf(appendColumnSQL, column), sessionID, ids, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append %s for session %s: %w", column, sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func embeddingArg(embedding []float32) interface{} {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
