package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/temcen/giftwise/pkg/models"
)

const eventColumns = 7

// PostgresEventStore appends rows to recommendation_events. A batch is one
// multi-row INSERT so an impression page costs a single round trip.
type PostgresEventStore struct {
	db DatabaseExecutor
}

func NewPostgresEventStore(db DatabaseExecutor) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (s *PostgresEventStore) InsertEvents(ctx context.Context, events []models.RecommendationEvent) error {
	if len(events) == 0 {
		return nil
	}

	var sql strings.Builder
	sql.WriteString(`INSERT INTO recommendation_events
		(id, session_id, user_id, product_id, action, metadata, created_at) VALUES `)

	args := make([]interface{}, 0, len(events)*eventColumns)
	for i, event := range events {
		metadata, err := metadataArg(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for event %s: %w", event.ID, err)
		}

		if i > 0 {
			sql.WriteString(", ")
		}
		base := i * eventColumns
		fmt.Fprintf(&sql, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)

		args = append(args,
			event.ID,
			event.SessionID,
			event.UserID,
			event.ProductID,
			string(event.Action),
			metadata,
			event.CreatedAt,
		)
	}

	if _, err := s.db.Exec(ctx, sql.String(), args...); err != nil {
		return fmt.Errorf("failed to insert %d events: %w", len(events), err)
	}
	return nil
}

func metadataArg(metadata map[string]interface{}) (interface{}, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	return json.Marshal(metadata)
}
