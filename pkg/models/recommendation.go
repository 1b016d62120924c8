package models

// RecommendationRequest is one page request against a session.
type RecommendationRequest struct {
	SessionID string  `json:"session_id"`
	UserID    *string `json:"user_id,omitempty"`
	Page      int     `json:"page"`
	PageSize  int     `json:"page_size"`
	Country   string  `json:"country,omitempty"`
}

// RecommendationPage is the only shape returned to callers; an empty page
// with HasMore=false covers every degraded outcome.
type RecommendationPage struct {
	Page     int             `json:"page"`
	HasMore  bool            `json:"has_more"`
	Products []RankedProduct `json:"products"`
}

func EmptyPage(page int) *RecommendationPage {
	return &RecommendationPage{
		Page:     page,
		HasMore:  false,
		Products: []RankedProduct{},
	}
}
