package models

import "time"

// SessionConstraints are the per-session filters merged on every profile rebuild.
type SessionConstraints struct {
	Interests   []string `json:"interests"`
	ExcludedIDs []string `json:"excluded_ids"`
	SeenIDs     []string `json:"seen_ids"`
}

// SessionProfile ties a session to its preference embedding and constraints.
// A nil Embedding means there is no semantic signal and ranking falls back
// to heuristics.
type SessionProfile struct {
	SessionID   string             `json:"session_id"`
	UserID      *string            `json:"user_id,omitempty"`
	FreeText    string             `json:"free_text,omitempty"`
	Embedding   []float32          `json:"embedding,omitempty"`
	Constraints SessionConstraints `json:"constraints"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func NewSessionProfile(sessionID string) *SessionProfile {
	now := time.Now()
	return &SessionProfile{
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *SessionProfile) HasEmbedding() bool {
	return s != nil && len(s.Embedding) > 0
}

type SessionProfileRequest struct {
	Text       string   `json:"text" binding:"max=10000"`
	Interests  []string `json:"interests" binding:"omitempty,max=50,dive,max=100"`
	ExcludeIDs []string `json:"exclude_ids" binding:"omitempty,max=500"`
}

type SessionProfileResponse struct {
	SessionID    string    `json:"session_id"`
	HasEmbedding bool      `json:"has_embedding"`
	Interests    []string  `json:"interests"`
	ExcludedIDs  int       `json:"excluded_count"`
	SeenIDs      int       `json:"seen_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}
