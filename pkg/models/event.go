package models

import (
	"time"

	"github.com/google/uuid"
)

// EventAction is the kind of shopper interaction being logged.
type EventAction string

const (
	ActionImpression EventAction = "IMPRESSION"
	ActionClick      EventAction = "CLICK"
	ActionSave       EventAction = "SAVE"
	ActionDislike    EventAction = "DISLIKE"
	ActionLike       EventAction = "LIKE"
)

func (a EventAction) Valid() bool {
	switch a {
	case ActionImpression, ActionClick, ActionSave, ActionDislike, ActionLike:
		return true
	}
	return false
}

// RecommendationEvent is an immutable, append-only interaction record.
type RecommendationEvent struct {
	ID        uuid.UUID              `json:"id"`
	SessionID string                 `json:"session_id"`
	UserID    *string                `json:"user_id,omitempty"`
	ProductID *string                `json:"product_id,omitempty"`
	Action    EventAction            `json:"action"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// EventRequest is the client-reported interaction. Impressions are
// generated server side and rejected here.
type EventRequest struct {
	SessionID string                 `json:"session_id" binding:"required,session_id"`
	ProductID string                 `json:"product_id" binding:"required,max=128"`
	Action    EventAction            `json:"action" binding:"required,oneof=CLICK SAVE DISLIKE LIKE"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}
