package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/giftwise/internal/config"
	"github.com/temcen/giftwise/pkg/models"
)

// PipelineState is a step of a single recommendation request. States only
// move forward.
type PipelineState string

const (
	StateFetchingCandidates PipelineState = "FETCHING_CANDIDATES"
	StateRanking            PipelineState = "RANKING"
	StateReranking          PipelineState = "RERANKING"
	StatePaginating         PipelineState = "PAGINATING"
	StateLogging            PipelineState = "LOGGING"
	StateDone               PipelineState = "DONE"
)

const sideEffectTimeout = 5 * time.Second

// RankedSnapshot is the full ranked list built for page 0 of a session,
// reused by later pages while it is cached. Shift is how many positions the
// list was moved forward when it had to be rebuilt mid-pagination.
type RankedSnapshot struct {
	Products []models.RankedProduct
	Shift    int
}

// RecommendationOrchestrator runs the per-request pipeline: fetch both pools
// concurrently, rank, optionally rerank, paginate, then log in the
// background. It never returns an error to its caller; every degraded stage
// falls back and a total store outage yields an empty page.
type RecommendationOrchestrator struct {
	profiles   SessionProfiles
	fetcher    CandidateFetcher
	engine     *RankingEngine
	reranker   Reranker
	recorder   Recorder
	snapshots  *TTLCache[RankedSnapshot]
	config     *config.RecommendationConfig
	rerankTopN int
	metrics    *PipelineMetrics
	logger     *logrus.Logger

	background sync.WaitGroup
}

func NewRecommendationOrchestrator(
	profiles SessionProfiles,
	fetcher CandidateFetcher,
	engine *RankingEngine,
	reranker Reranker,
	recorder Recorder,
	snapshots *TTLCache[RankedSnapshot],
	config *config.RecommendationConfig,
	rerankTopN int,
	metrics *PipelineMetrics,
	logger *logrus.Logger,
) *RecommendationOrchestrator {
	if reranker == nil {
		reranker = NoopReranker{}
	}

	return &RecommendationOrchestrator{
		profiles:   profiles,
		fetcher:    fetcher,
		engine:     engine,
		reranker:   reranker,
		recorder:   recorder,
		snapshots:  snapshots,
		config:     config,
		rerankTopN: rerankTopN,
		metrics:    metrics,
		logger:     logger,
	}
}

func (o *RecommendationOrchestrator) GetRecommendations(ctx context.Context, req *models.RecommendationRequest) *models.RecommendationPage {
	page, _ := o.run(ctx, req)
	return page
}

// Wait blocks until background seen-id writes have finished.
func (o *RecommendationOrchestrator) Wait() {
	o.background.Wait()
}

func (o *RecommendationOrchestrator) run(ctx context.Context, req *models.RecommendationRequest) (*models.RecommendationPage, []PipelineState) {
	startTime := time.Now()
	trace := make([]PipelineState, 0, 6)
	enter := func(state PipelineState) {
		trace = append(trace, state)
		o.logger.WithFields(logrus.Fields{
			"session_id": req.SessionID,
			"state":      state,
		}).Debug("Recommendation pipeline state")
	}

	pageNum, pageSize := o.normalizePaging(req.Page, req.PageSize)
	profile := o.loadProfile(ctx, req)
	exclusions := ExclusionSet{
		SeenIDs:     profile.Constraints.SeenIDs,
		NegativeIDs: profile.Constraints.ExcludedIDs,
	}

	cacheKey := rankedCacheKey(req.SessionID, req.Country)
	snapshot, cached := o.cachedSnapshot(cacheKey, pageNum)

	if !cached {
		enter(StateFetchingCandidates)
		candidates := o.fetchCandidates(ctx, profile, req.Country)

		if len(candidates) == 0 {
			enter(StateDone)
			o.metrics.ObserveRequest(startTime, true)
			o.logger.WithField("session_id", req.SessionID).Warn("No candidates available from either pool")
			return models.EmptyPage(pageNum), trace
		}

		enter(StateRanking)
		ranked := o.engine.Rank(candidates, profile.Constraints.Interests, exclusions)

		if o.reranker.Name() != (NoopReranker{}).Name() {
			enter(StateReranking)
			ranked = o.reranker.Rerank(ctx, ranked, profile, o.rerankTopN)
		}

		snapshot = RankedSnapshot{Products: ranked}
		if pageNum > 0 {
			// earlier pages are now in the seen set and were filtered out
			snapshot.Shift = countSeen(candidates, profile.Constraints.SeenIDs, profile.Constraints.ExcludedIDs)
		}
		if o.snapshots != nil {
			o.snapshots.Set(cacheKey, snapshot)
		}
	}

	enter(StatePaginating)
	products, hasMore := paginate(snapshot, pageNum, pageSize, exclusions)

	result := &models.RecommendationPage{
		Page:     pageNum,
		HasMore:  hasMore,
		Products: products,
	}

	enter(StateLogging)
	o.logServed(ctx, req, products)

	enter(StateDone)
	o.metrics.ObserveRequest(startTime, len(products) == 0)
	o.logger.WithFields(logrus.Fields{
		"session_id": req.SessionID,
		"page":       pageNum,
		"returned":   len(products),
		"has_more":   hasMore,
		"cached":     cached,
		"latency":    time.Since(startTime),
	}).Info("Recommendations served")

	return result, trace
}

func (o *RecommendationOrchestrator) normalizePaging(page, pageSize int) (int, int) {
	if page < 0 {
		page = 0
	}
	if pageSize <= 0 {
		pageSize = o.config.DefaultPageSize
	}
	if o.config.MaxPageSize > 0 && pageSize > o.config.MaxPageSize {
		pageSize = o.config.MaxPageSize
	}
	return page, pageSize
}

// loadProfile returns the stored profile, creating an empty one on the
// session's first request.
func (o *RecommendationOrchestrator) loadProfile(ctx context.Context, req *models.RecommendationRequest) *models.SessionProfile {
	profile, err := o.profiles.Load(ctx, req.SessionID)
	if err == nil {
		return profile
	}

	if !errors.Is(err, ErrSessionNotFound) {
		o.logger.WithError(err).WithField("session_id", req.SessionID).Warn("Failed to load session profile, using empty profile")
		return models.NewSessionProfile(req.SessionID)
	}

	profile, err = o.profiles.Build(ctx, req.SessionID, req.UserID, "", models.SessionConstraints{})
	if err != nil {
		o.logger.WithError(err).WithField("session_id", req.SessionID).Warn("Failed to create session profile")
		return models.NewSessionProfile(req.SessionID)
	}
	return profile
}

// fetchCandidates queries both pools concurrently and merges them vendor
// first so ties favour retrieval order across pools deterministically.
func (o *RecommendationOrchestrator) fetchCandidates(ctx context.Context, profile *models.SessionProfile, country string) []models.CandidateProduct {
	if o.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.FetchTimeout)
		defer cancel()
	}

	query := func(pool models.ProductSource) CandidateQuery {
		return CandidateQuery{
			Pool:       pool,
			Embedding:  profile.Embedding,
			Limit:      o.config.CandidateLimit,
			Country:    country,
			ExcludeIDs: profile.Constraints.ExcludedIDs,
		}
	}

	var vendor, affiliate []models.CandidateProduct
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vendor = o.fetcher.FetchCandidates(gctx, query(models.SourceVendor))
		return nil
	})
	g.Go(func() error {
		affiliate = o.fetcher.FetchCandidates(gctx, query(models.SourceAffiliate))
		return nil
	})
	_ = g.Wait()

	merged := make([]models.CandidateProduct, 0, len(vendor)+len(affiliate))
	merged = append(merged, vendor...)
	return append(merged, affiliate...)
}

func (o *RecommendationOrchestrator) cachedSnapshot(key string, page int) (RankedSnapshot, bool) {
	// page 0 always re-ranks so a returning shopper sees fresh results
	if page == 0 || o.snapshots == nil {
		return RankedSnapshot{}, false
	}
	return o.snapshots.Get(key)
}

// logServed records impressions and grows the seen set without holding up
// the response.
func (o *RecommendationOrchestrator) logServed(ctx context.Context, req *models.RecommendationRequest, products []models.RankedProduct) {
	if len(products) == 0 {
		return
	}

	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}

	if o.recorder != nil {
		o.recorder.RecordImpressions(req.SessionID, req.UserID, ids)
	}

	bgCtx := context.WithoutCancel(ctx)
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		writeCtx, cancel := context.WithTimeout(bgCtx, sideEffectTimeout)
		defer cancel()
		o.profiles.AppendSeenIDs(writeCtx, req.SessionID, ids)
	}()
}

// paginate slices [start, start+pageSize) out of the snapshot. Items that
// entered the seen or excluded sets since the snapshot was taken are dropped
// from the page.
func paginate(snapshot RankedSnapshot, page, pageSize int, exclusions ExclusionSet) ([]models.RankedProduct, bool) {
	total := len(snapshot.Products)
	start := page*pageSize - snapshot.Shift
	if start < 0 {
		start = 0
	}
	if start >= total {
		return []models.RankedProduct{}, false
	}

	end := min(start+pageSize, total)
	excluded := exclusions.index()

	products := make([]models.RankedProduct, 0, end-start)
	for _, p := range snapshot.Products[start:end] {
		if _, skip := excluded[p.ID]; skip {
			continue
		}
		products = append(products, p)
	}

	return products, total > end
}

// countSeen counts the served items that ranked ahead of the rebuilt list.
// A served item that was later disliked is dropped by the store query, so
// it is counted through the excluded set instead of the candidates.
func countSeen(candidates []models.CandidateProduct, seenIDs, excludedIDs []string) int {
	if len(seenIDs) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(seenIDs))
	for _, id := range seenIDs {
		seen[id] = struct{}{}
	}

	counted := make(map[string]struct{})
	for _, c := range candidates {
		if _, ok := seen[c.ID]; ok {
			counted[c.ID] = struct{}{}
		}
	}
	for _, id := range excludedIDs {
		if _, ok := seen[id]; ok {
			counted[id] = struct{}{}
		}
	}
	return len(counted)
}

func rankedCacheKey(sessionID, country string) string {
	return "ranked:" + sessionID + ":" + country
}
