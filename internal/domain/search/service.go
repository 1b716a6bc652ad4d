// Package search coordinates the three retrieval paths over the media
// catalog: keyword matching in the relational store, semantic nearest-neighbor
// search over the vector index, and tag aggregation.
package search

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/infrastructure/metrics"
	"github.com/nbrain-team/vid/internal/utils/platformerrors"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// SemanticHit pairs a hydrated asset with its similarity score.
type SemanticHit struct {
	Asset *media.MediaAsset `json:"asset"`
	Score float32           `json:"score"`
}

// TagCount is one entry of the tag frequency aggregation.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// SemanticQuery describes one semantic search request.
type SemanticQuery struct {
	Query    string
	FileType media.FileType
	Tags     []string
	Limit    int
	MinScore float32
}

// Service is the hybrid search coordinator.
type Service struct {
	repo     media.Repository
	index    media.VectorIndex
	embedder media.Embedder
	log      zerolog.Logger
}

func NewService(repo media.Repository, index media.VectorIndex, embedder media.Embedder, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		index:    index,
		embedder: embedder,
		log:      log.With().Str("component", "search").Logger(),
	}
}

// Keyword searches captions, filenames, titles and tags in the relational
// store. Matching is case-insensitive substring.
func (s *Service) Keyword(ctx context.Context, ownerID string, q media.KeywordQuery) ([]*media.MediaAsset, error) {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		metrics.SearchQueriesTotal.WithLabelValues("keyword", "error").Inc()
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"search query must not be empty", nil, "")
	}
	q.Limit = clampLimit(q.Limit)

	assets, err := s.repo.KeywordSearch(ctx, ownerID, q)
	if err != nil {
		metrics.SearchQueriesTotal.WithLabelValues("keyword", "error").Inc()
		return nil, err
	}
	metrics.SearchQueriesTotal.WithLabelValues("keyword", "ok").Inc()
	return assets, nil
}

// Semantic embeds the query text and searches the vector index, then hydrates
// the neighbors from the relational store. The index is shared across owners,
// so results are re-filtered by owner after hydration; neighbors whose row has
// disappeared are dropped silently. Order and scores come from the index.
func (s *Service) Semantic(ctx context.Context, ownerID string, q SemanticQuery) ([]SemanticHit, error) {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		metrics.SearchQueriesTotal.WithLabelValues("semantic", "error").Inc()
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"search query must not be empty", nil, "")
	}
	q.Limit = clampLimit(q.Limit)

	vector, err := s.embedder.EmbedText(ctx, q.Query)
	if err != nil {
		metrics.SearchQueriesTotal.WithLabelValues("semantic", "error").Inc()
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "embed search query")
	}

	var filter *media.VectorFilter
	if q.FileType != "" || len(q.Tags) > 0 {
		filter = &media.VectorFilter{FileType: string(q.FileType), Tags: q.Tags}
	}
	neighbors, err := s.index.Search(ctx, vector, q.Limit, q.MinScore, filter)
	if err != nil {
		metrics.SearchQueriesTotal.WithLabelValues("semantic", "error").Inc()
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "vector search")
	}
	if len(neighbors) == 0 {
		metrics.SearchQueriesTotal.WithLabelValues("semantic", "ok").Inc()
		return []SemanticHit{}, nil
	}

	ids := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		ids = append(ids, n.Payload.AssetID)
	}
	assets, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		metrics.SearchQueriesTotal.WithLabelValues("semantic", "error").Inc()
		return nil, err
	}
	byID := make(map[string]*media.MediaAsset, len(assets))
	for _, a := range assets {
		byID[a.ID] = a
	}

	hits := make([]SemanticHit, 0, len(neighbors))
	for _, n := range neighbors {
		asset, ok := byID[n.Payload.AssetID]
		if !ok {
			// Vector outlived its row; the worker compensation or delete
			// ordering normally prevents this, so just skip it here.
			s.log.Debug().Str("asset_id", n.Payload.AssetID).Msg("dropping vector hit without a backing row")
			continue
		}
		if asset.OwnerID != ownerID {
			continue
		}
		hits = append(hits, SemanticHit{Asset: asset, Score: n.Score})
	}
	metrics.SearchQueriesTotal.WithLabelValues("semantic", "ok").Inc()
	return hits, nil
}

// TopTags aggregates tag frequencies across the owner's processed assets and
// returns the most common ones. Ties keep first-seen order, which follows
// asset creation time.
func (s *Service) TopTags(ctx context.Context, ownerID string, limit int) ([]TagCount, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	sets, err := s.repo.TagSets(ctx, ownerID)
	if err != nil {
		metrics.SearchQueriesTotal.WithLabelValues("tags", "error").Inc()
		return nil, err
	}

	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	order := 0
	for _, set := range sets {
		for _, tag := range set {
			if tag == "" {
				continue
			}
			if _, seen := counts[tag]; !seen {
				firstSeen[tag] = order
				order++
			}
			counts[tag]++
		}
	}

	result := make([]TagCount, 0, len(counts))
	for tag, count := range counts {
		result = append(result, TagCount{Tag: tag, Count: count})
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return firstSeen[result[i].Tag] < firstSeen[result[j].Tag]
	})
	if len(result) > limit {
		result = result[:limit]
	}
	metrics.SearchQueriesTotal.WithLabelValues("tags", "ok").Inc()
	return result, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
