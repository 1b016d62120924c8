package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/temcen/giftwise/internal/config"
	"github.com/temcen/giftwise/internal/validation"
	"github.com/temcen/giftwise/pkg/models"
)

// ErrMalformedRerank is returned when the model output breaks the
// {"order": [...]} contract.
var ErrMalformedRerank = errors.New("malformed rerank response")

const (
	rerankHardCap       = 30
	rerankMaxCategories = 5

	rerankSystemPrompt = `You reorder gift recommendations for a shopper.
Return strict JSON of the form {"order": ["id", "id", ...]} and nothing else.
Use only ids from the candidate list. You may drop poor matches but keep at least 10 when possible.`
)

// NoopReranker keeps the heuristic order.
type NoopReranker struct{}

func (NoopReranker) Rerank(_ context.Context, ranked []models.RankedProduct, _ *models.SessionProfile, _ int) []models.RankedProduct {
	return ranked
}

func (NoopReranker) Name() string {
	return "noop"
}

// ModelReranker asks a chat model to reorder the head of the ranked list.
// Any failure returns the input untouched.
type ModelReranker struct {
	completer ChatCompleter
	validator *validation.SchemaValidator
	config    config.RerankConfig
	metrics   *PipelineMetrics
	logger    *logrus.Logger
}

func NewModelReranker(
	completer ChatCompleter,
	validator *validation.SchemaValidator,
	config config.RerankConfig,
	metrics *PipelineMetrics,
	logger *logrus.Logger,
) *ModelReranker {
	return &ModelReranker{
		completer: completer,
		validator: validator,
		config:    config,
		metrics:   metrics,
		logger:    logger,
	}
}

// NewReranker selects the reranker variant from configuration.
func NewReranker(
	completer ChatCompleter,
	validator *validation.SchemaValidator,
	cfg config.RerankConfig,
	metrics *PipelineMetrics,
	logger *logrus.Logger,
) Reranker {
	if !cfg.Enabled || completer == nil || validator == nil {
		return NoopReranker{}
	}
	return NewModelReranker(completer, validator, cfg, metrics, logger)
}

func (r *ModelReranker) Name() string {
	return "model"
}

func (r *ModelReranker) Rerank(ctx context.Context, ranked []models.RankedProduct, session *models.SessionProfile, topN int) []models.RankedProduct {
	n := r.sliceSize(topN, len(ranked))
	if n < 2 {
		r.metrics.RerankOutcome(r.Name(), "skipped")
		return ranked
	}

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	head := ranked[:n]
	raw, err := r.completer.Complete(ctx, rerankSystemPrompt, buildRerankPrompt(head, session), r.config.Temperature, r.config.MaxTokens)
	if err != nil {
		r.fallback(err, n)
		return ranked
	}

	order, err := r.parseOrder(raw)
	if err != nil {
		r.fallback(err, n)
		return ranked
	}

	result := applyOrder(ranked, n, order)
	r.metrics.RerankOutcome(r.Name(), "applied")
	r.logger.WithFields(logrus.Fields{
		"slice":    n,
		"returned": len(order),
	}).Debug("Rerank applied")

	return result
}

func (r *ModelReranker) sliceSize(topN, total int) int {
	if topN <= 0 {
		topN = r.config.TopN
	}
	limit := r.config.MaxSlice
	if limit <= 0 || limit > rerankHardCap {
		limit = rerankHardCap
	}
	return min(topN, limit, total)
}

func (r *ModelReranker) fallback(err error, n int) {
	r.metrics.RerankOutcome(r.Name(), "fallback")
	r.logger.WithError(err).WithField("slice", n).Warn("Rerank failed, keeping heuristic order")
}

func (r *ModelReranker) parseOrder(raw string) ([]string, error) {
	body := []byte(strings.TrimSpace(raw))

	if err := r.validator.ValidateRerankResponse(body).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRerank, err)
	}

	var response struct {
		Order []string `json:"order"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRerank, err)
	}
	return response.Order, nil
}

// applyOrder rebuilds the list as: ids from order that exist in the head
// (first occurrence wins), then head items the model left out, then the
// untouched tail. Ranks are reassigned over the whole sequence.
func applyOrder(ranked []models.RankedProduct, n int, order []string) []models.RankedProduct {
	head := ranked[:n]
	byID := make(map[string]int, n)
	for i, p := range head {
		byID[p.ID] = i
	}

	result := make([]models.RankedProduct, 0, len(ranked))
	used := make([]bool, n)

	for _, id := range order {
		idx, ok := byID[id]
		if !ok || used[idx] {
			continue
		}
		used[idx] = true
		result = append(result, head[idx])
	}

	for i, p := range head {
		if !used[i] {
			result = append(result, p)
		}
	}

	result = append(result, ranked[n:]...)
	for i := range result {
		result[i].Rank = i + 1
	}
	return result
}

func buildRerankPrompt(head []models.RankedProduct, session *models.SessionProfile) string {
	var b strings.Builder

	interests := "none given"
	if session != nil && len(session.Constraints.Interests) > 0 {
		interests = strings.Join(session.Constraints.Interests, ", ")
	}
	fmt.Fprintf(&b, "Shopper interests: %s\n", interests)
	if session != nil && session.FreeText != "" {
		fmt.Fprintf(&b, "Shopper description: %s\n", session.FreeText)
	}

	b.WriteString("Candidates (id | title | price | categories):\n")
	for _, p := range head {
		categories := p.Categories
		if len(categories) > rerankMaxCategories {
			categories = categories[:rerankMaxCategories]
		}
		fmt.Fprintf(&b, "%s | %s | %.2f %s | %s\n",
			p.ID, p.Title, p.Price, p.Currency, strings.Join(categories, ", "))
	}

	return b.String()
}
