package services

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gonum.org/v1/gonum/floats"

	"github.com/temcen/giftwise/internal/config"
	"github.com/temcen/giftwise/pkg/models"
)

// ExclusionSet holds ids that must never be ranked: items already served in
// this session and items the shopper explicitly rejected.
type ExclusionSet struct {
	SeenIDs     []string
	NegativeIDs []string
}

func (e ExclusionSet) index() map[string]struct{} {
	idx := make(map[string]struct{}, len(e.SeenIDs)+len(e.NegativeIDs))
	for _, id := range e.SeenIDs {
		idx[id] = struct{}{}
	}
	for _, id := range e.NegativeIDs {
		idx[id] = struct{}{}
	}
	return idx
}

// RankingEngine scores candidates with a weighted linear combination of
// similarity, quality, recency and popularity, applies the vendor and
// interest boosts, then diversifies by retailer. It holds no mutable state
// and is safe for concurrent use.
type RankingEngine struct {
	config    config.RecommendationConfig
	weights   []float64
	diversity *DiversityFilter
}

func NewRankingEngine(cfg config.RecommendationConfig) *RankingEngine {
	return &RankingEngine{
		config: cfg,
		weights: []float64{
			cfg.Weights.Similarity,
			cfg.Weights.Quality,
			cfg.Weights.Recency,
			cfg.Weights.Popularity,
		},
		diversity: NewDiversityFilter(cfg.MaxPerRetailer, cfg.MaxResults),
	}
}

// Rank is deterministic for identical inputs: excluded ids are dropped, the
// rest are stable-sorted by score (ties keep retrieval order), capped per
// retailer and overall, and ranked 1..N.
func (r *RankingEngine) Rank(candidates []models.CandidateProduct, interests []string, exclusions ExclusionSet) []models.RankedProduct {
	excluded := exclusions.index()
	matcher := newInterestMatcher(interests)

	scored := make([]models.RankedProduct, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, skip := excluded[c.ID]; skip {
			continue
		}
		// the same product can surface from both pools; keep the first
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}

		scored = append(scored, models.RankedProduct{
			CandidateProduct: c,
			Score:            r.score(&c, matcher),
			Badges:           Badges(&c),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	ranked := r.diversity.Apply(scored)
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// Score returns the final score of a single candidate.
func (r *RankingEngine) Score(c *models.CandidateProduct, interests []string) float64 {
	return r.score(c, newInterestMatcher(interests))
}

func (r *RankingEngine) score(c *models.CandidateProduct, matcher *interestMatcher) float64 {
	signals := []float64{
		valueOr(c.Similarity, r.config.NeutralSimilarity),
		valueOr(c.QualityScore, 0),
		valueOr(c.RecencyScore, 0),
		valueOr(c.PopularityScore, 0),
	}
	score := floats.Dot(r.weights, signals)

	if c.IsVendorSourced() {
		score *= r.config.VendorBoost
	}

	if matches := matcher.count(c.Categories); matches > 0 {
		score *= 1 + float64(matches)*r.config.InterestBoost
	}

	return score
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

// interestMatcher counts interest tags that appear as a substring of any
// candidate category, comparing case-folded forms.
type interestMatcher struct {
	caser     cases.Caser
	interests []string
}

func newInterestMatcher(interests []string) *interestMatcher {
	// cases.Caser is stateful, so each Rank call gets its own.
	m := &interestMatcher{caser: cases.Lower(language.Und)}
	for _, interest := range interests {
		folded := strings.TrimSpace(m.caser.String(interest))
		if folded != "" {
			m.interests = append(m.interests, folded)
		}
	}
	return m
}

func (m *interestMatcher) count(categories []string) int {
	if len(m.interests) == 0 || len(categories) == 0 {
		return 0
	}

	folded := make([]string, len(categories))
	for i, category := range categories {
		folded[i] = m.caser.String(category)
	}

	matches := 0
	for _, interest := range m.interests {
		for _, category := range folded {
			if strings.Contains(category, interest) {
				matches++
				break
			}
		}
	}
	return matches
}

// Badges derives the informational labels for a candidate. They have no
// effect on scoring.
func Badges(c *models.CandidateProduct) []string {
	badges := make([]string, 0, 4)
	if c.IsVendorSourced() {
		badges = append(badges, models.BadgePartner)
	}
	if c.Fulfillment.PrimeEligible {
		badges = append(badges, models.BadgePrime)
	}
	if c.Fulfillment.FreeShipping {
		badges = append(badges, models.BadgeFreeShipping)
	}
	if c.Fulfillment.BestSeller {
		badges = append(badges, models.BadgeBestSeller)
	}
	return badges
}
