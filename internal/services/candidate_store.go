package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/giftwise/internal/config"
	"github.com/temcen/giftwise/pkg/models"
)

// CandidateQuery describes one pool fetch.
type CandidateQuery struct {
	Pool       models.ProductSource
	Embedding  []float32
	Limit      int
	Country    string
	ExcludeIDs []string
}

// CandidateStore retrieves candidate products from Postgres. It prefers a
// pgvector nearest-neighbour query and falls back to a heuristic ordering
// when there is no embedding or the similarity query fails.
type CandidateStore struct {
	db      DatabaseQuerier
	config  *config.RecommendationConfig
	metrics *PipelineMetrics
	logger  *logrus.Logger
}

func NewCandidateStore(
	db DatabaseQuerier,
	config *config.RecommendationConfig,
	metrics *PipelineMetrics,
	logger *logrus.Logger,
) *CandidateStore {
	return &CandidateStore{
		db:      db,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

const candidateColumns = `
		p.id, p.title, p.description, p.price::float8, p.currency,
		p.image_urls, p.categories, p.source, p.retailer, p.country, p.availability,
		p.quality_score, p.recency_score, p.popularity_score,
		p.prime_eligible, p.free_shipping, p.delivery_days, p.seller_rating, p.best_seller`

// eligibility predicate shared by both query paths; $1 is always the pool.
const candidatePredicate = `
		WHERE p.source = $1
			AND p.status = 'approved'
			AND p.availability <> 'out_of_stock'
			AND p.price > 0
			AND cardinality(p.image_urls) > 0`

// FetchCandidates never returns an error: an unrecoverable failure yields an
// empty pool so the other pool can still be served.
func (s *CandidateStore) FetchCandidates(ctx context.Context, query CandidateQuery) []models.CandidateProduct {
	startTime := time.Now()
	pool := string(query.Pool)

	if len(query.Embedding) > 0 {
		candidates, err := s.similarityCandidates(ctx, query)
		if err == nil {
			s.metrics.CandidateFetch(pool, "similarity", len(candidates))
			s.logger.WithFields(logrus.Fields{
				"pool":    pool,
				"count":   len(candidates),
				"latency": time.Since(startTime),
			}).Debug("Similarity candidates fetched")
			return candidates
		}

		s.logger.WithError(err).WithField("pool", pool).Warn("Similarity query failed, falling back to heuristic candidates")
	}

	candidates, err := s.heuristicCandidates(ctx, query)
	if err != nil {
		s.metrics.CandidateFetch(pool, "error", 0)
		s.logger.WithError(err).WithField("pool", pool).Error("Heuristic candidate query failed")
		return []models.CandidateProduct{}
	}

	s.metrics.CandidateFetch(pool, "heuristic", len(candidates))
	s.logger.WithFields(logrus.Fields{
		"pool":    pool,
		"count":   len(candidates),
		"latency": time.Since(startTime),
	}).Debug("Heuristic candidates fetched")

	return candidates
}

func (s *CandidateStore) similarityCandidates(ctx context.Context, query CandidateQuery) ([]models.CandidateProduct, error) {
	args := []interface{}{string(query.Pool), pgvector.NewVector(query.Embedding)}
	filters, args := s.optionalFilters(query, args)

	sql := `
		SELECT` + candidateColumns + `,
			1 - (p.embedding <=> $2) AS similarity
		FROM products p` + candidatePredicate + `
			AND p.embedding IS NOT NULL` + filters + fmt.Sprintf(`
		ORDER BY p.embedding <=> $2
		LIMIT $%d`, len(args)+1)
	args = append(args, s.limit(query.Limit))

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	defer rows.Close()

	return s.scanCandidates(rows, true)
}

func (s *CandidateStore) heuristicCandidates(ctx context.Context, query CandidateQuery) ([]models.CandidateProduct, error) {
	args := []interface{}{string(query.Pool)}
	filters, args := s.optionalFilters(query, args)

	limit := s.limit(query.Limit)
	if limit < s.config.HeuristicFloor {
		limit = s.config.HeuristicFloor
	}

	sql := `
		SELECT` + candidateColumns + `
		FROM products p` + candidatePredicate + filters + fmt.Sprintf(`
		ORDER BY p.quality_score DESC NULLS LAST,
			p.recency_score DESC NULLS LAST,
			p.popularity_score DESC NULLS LAST,
			p.id
		LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("heuristic query failed: %w", err)
	}
	defer rows.Close()

	return s.scanCandidates(rows, false)
}

// optionalFilters appends the country and exclusion predicates. Country only
// narrows the affiliate pool; vendor products ship everywhere.
func (s *CandidateStore) optionalFilters(query CandidateQuery, args []interface{}) (string, []interface{}) {
	var b strings.Builder

	if query.Country != "" && query.Pool == models.SourceAffiliate {
		args = append(args, query.Country)
		fmt.Fprintf(&b, "\n\t\t\tAND (p.country = $%d OR p.country IS NULL)", len(args))
	}

	if len(query.ExcludeIDs) > 0 {
		args = append(args, query.ExcludeIDs)
		fmt.Fprintf(&b, "\n\t\t\tAND NOT (p.id = ANY($%d))", len(args))
	}

	return b.String(), args
}

func (s *CandidateStore) limit(requested int) int {
	if requested > 0 {
		return requested
	}
	return s.config.CandidateLimit
}

func (s *CandidateStore) scanCandidates(rows pgx.Rows, withSimilarity bool) ([]models.CandidateProduct, error) {
	candidates := make([]models.CandidateProduct, 0)

	for rows.Next() {
		var (
			c            models.CandidateProduct
			source       string
			availability string
			deliveryDays *int32
			similarity   *float64
		)

		dest := []interface{}{
			&c.ID, &c.Title, &c.Description, &c.Price, &c.Currency,
			&c.ImageURLs, &c.Categories, &source, &c.Retailer, &c.Country, &availability,
			&c.QualityScore, &c.RecencyScore, &c.PopularityScore,
			&c.Fulfillment.PrimeEligible, &c.Fulfillment.FreeShipping, &deliveryDays,
			&c.Fulfillment.SellerRating, &c.Fulfillment.BestSeller,
		}
		if withSimilarity {
			dest = append(dest, &similarity)
		}

		if err := rows.Scan(dest...); err != nil {
			s.logger.WithError(err).Error("Failed to scan candidate row")
			continue
		}

		c.Source = models.ProductSource(source)
		c.Availability = models.Availability(availability)
		if deliveryDays != nil {
			days := int(*deliveryDays)
			c.Fulfillment.DeliveryDays = &days
		}
		c.Similarity = similarity

		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("candidate rows: %w", err)
	}

	return candidates, nil
}
