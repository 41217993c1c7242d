package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kodomolab/voice-relay/internal/metrics"
	"github.com/kodomolab/voice-relay/internal/storage/models"
	"github.com/kodomolab/voice-relay/pkg/logger"
	"github.com/kodomolab/voice-relay/pkg/utils"
)

const contextHeader = "\n\n【参考資料】\n以下の情報を参考にして、子どもにわかりやすく答えてください：\n\n"

type ContentStore interface {
	ListContent() ([]models.ContentItem, error)
}

// ContextCache is optional; a nil cache means every question hits the store.
type ContextCache interface {
	GetContext(ctx context.Context, queryHash string) (string, bool, error)
	SetContext(ctx context.Context, queryHash, contextStr string, ttl time.Duration) error
}

// Retriever assembles the instruction context injected into the upstream
// session. An empty return value signals "no augmentation"; the caller must
// then skip the instruction update entirely.
type Retriever struct {
	store    ContentStore
	cache    ContextCache
	topK     int
	cacheTTL time.Duration
}

func NewRetriever(store ContentStore, cache ContextCache, topK int, cacheTTL time.Duration) *Retriever {
	if topK <= 0 {
		topK = 3
	}
	return &Retriever{
		store:    store,
		cache:    cache,
		topK:     topK,
		cacheTTL: cacheTTL,
	}
}

// Search returns the topK content items relevant to the query.
func (r *Retriever) Search(query string) ([]ScoredItem, error) {
	keywords := ExtractKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	items, err := r.store.ListContent()
	if err != nil {
		return nil, fmt.Errorf("failed to load content: %w", err)
	}

	return RankContent(keywords, items, r.topK), nil
}

// BuildContext returns the formatted context string for a question, or ""
// when nothing relevant exists. Retrieval failures are logged and reported
// as "" so the caller never blocks the conversation on them.
func (r *Retriever) BuildContext(ctx context.Context, query string) string {
	keywords := ExtractKeywords(query)
	if len(keywords) == 0 {
		return ""
	}

	queryHash := utils.HashString(query)
	if r.cache != nil {
		cached, found, err := r.cache.GetContext(ctx, queryHash)
		if err != nil {
			logger.Debug("Context cache lookup failed", zap.Error(err))
		} else if found {
			metrics.ContextCacheHits.WithLabelValues("context", "hit").Inc()
			return cached
		}
		metrics.ContextCacheHits.WithLabelValues("context", "miss").Inc()
	}

	items, err := r.store.ListContent()
	if err != nil {
		metrics.EnrichmentFailures.WithLabelValues("retrieval").Inc()
		logger.Warn("Content retrieval failed", zap.Error(err))
		return ""
	}

	results := RankContent(keywords, items, r.topK)

	contextStr := assembleContext(results)

	logger.Debug("Retrieval finished",
		zap.String("query", query),
		zap.Int("results", len(results)),
	)

	if r.cache != nil {
		if err := r.cache.SetContext(ctx, queryHash, contextStr, r.cacheTTL); err != nil {
			logger.Debug("Context cache write failed", zap.Error(err))
		}
	}

	return contextStr
}

func assembleContext(results []ScoredItem) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	for i, res := range results {
		fmt.Fprintf(&b, "%d. %s\n%s\n\n", i+1, res.Item.Title, res.Item.Content)
	}

	return b.String()
}
