package services

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/temcen/giftwise/pkg/models"
)

// DatabaseQuerier interface for read queries. Satisfied by *pgxpool.Pool and
// pgxmock pools.
type DatabaseQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// DatabaseExecutor covers the single-row reads and auto-committed writes
// used by the session and event stores.
type DatabaseExecutor interface {
	DatabaseQuerier
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Embedder turns free text into a preference vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChatCompleter runs a single chat completion expected to return JSON text.
type ChatCompleter interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error)
}

// CandidateFetcher retrieves one candidate pool for a session.
type CandidateFetcher interface {
	FetchCandidates(ctx context.Context, query CandidateQuery) []models.CandidateProduct
}

// SessionStore persists session profiles keyed by session id.
type SessionStore interface {
	Upsert(ctx context.Context, profile *models.SessionProfile) error
	FindByID(ctx context.Context, sessionID string) (*models.SessionProfile, error)
	AppendSeenIDs(ctx context.Context, sessionID string, ids []string) error
	AppendExcludedIDs(ctx context.Context, sessionID string, ids []string) error
}

// SessionProfiles is what the orchestrator needs from the profile manager.
type SessionProfiles interface {
	Build(ctx context.Context, sessionID string, userID *string, freeText string, constraints models.SessionConstraints) (*models.SessionProfile, error)
	Load(ctx context.Context, sessionID string) (*models.SessionProfile, error)
	AppendSeenIDs(ctx context.Context, sessionID string, ids []string)
}

// EventStore is the append-only event table.
type EventStore interface {
	InsertEvents(ctx context.Context, events []models.RecommendationEvent) error
}

// EventPublisher forwards events to downstream analytics.
type EventPublisher interface {
	PublishEvents(ctx context.Context, events []models.RecommendationEvent) error
}

// FeedbackApplier folds shopper feedback back into the session constraints.
type FeedbackApplier interface {
	ApplyFeedback(ctx context.Context, sessionID, productID string, action models.EventAction) error
}

// Reranker optionally reorders the head of a ranked list. Implementations
// must return the input unchanged on any failure.
type Reranker interface {
	Rerank(ctx context.Context, ranked []models.RankedProduct, session *models.SessionProfile, topN int) []models.RankedProduct
	Name() string
}

// Recorder is the event recorder surface used by the orchestrator and handlers.
type Recorder interface {
	RecordImpressions(sessionID string, userID *string, productIDs []string)
	RecordAction(req *models.EventRequest, userID *string) error
}

// RecommendationOrchestratorInterface defines the interface for recommendation orchestration
type RecommendationOrchestratorInterface interface {
	GetRecommendations(ctx context.Context, req *models.RecommendationRequest) *models.RecommendationPage
}
