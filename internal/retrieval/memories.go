package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/alignd/internal/capabilities"
	"github.com/fyrsmithlabs/alignd/internal/selection"
	"github.com/fyrsmithlabs/alignd/internal/store"
)

// MemoryRetriever recalls conversation memories relevant to the turn from
// the memory bank. The bank scores candidates itself (embedded similarity
// search); the retriever reranks and selects.
type MemoryRetriever struct {
	bank     *store.MemoryBank
	reranker capabilities.Reranker
	cfg      Config
	logger   *zap.Logger
}

// NewMemoryRetriever creates a MemoryRetriever. reranker may be nil.
func NewMemoryRetriever(bank *store.MemoryBank, reranker capabilities.Reranker, cfg Config, logger *zap.Logger) *MemoryRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryRetriever{bank: bank, reranker: reranker, cfg: cfg, logger: logger}
}

// Retrieve returns selected memories sorted descending by score.
func (r *MemoryRetriever) Retrieve(ctx context.Context, q Query) ([]store.ScoredMemory, error) {
	if r.bank == nil {
		return nil, nil
	}
	// Over-fetch beyond maxK so the selection strategy sees the score
	// distribution, not just the head.
	fetchN := r.cfg.Selection.MaxK * 3
	if fetchN <= 0 {
		fetchN = 10
	}
	recalled, err := r.bank.Search(ctx, q.TenantID, q.Embedding, fetchN)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}

	scored := make([]selection.ScoredItem[store.ConversationMemory], 0, len(recalled))
	for _, m := range recalled {
		scored = append(scored, selection.ScoredItem[store.ConversationMemory]{Item: m.Memory, Score: m.Score})
	}
	sortDescending(scored)

	if r.cfg.RerankEnabled && r.reranker != nil {
		docs := make([]string, len(scored))
		for i, item := range scored {
			docs[i] = item.Item.Text
		}
		scored = rerank(ctx, r.reranker, q.Text, scored, docs, r.cfg.RerankTopK, r.logger)
	}

	result, err := selectFrom(scored, r.cfg.Selection)
	if err != nil {
		return nil, fmt.Errorf("selecting memories: %w", err)
	}
	r.logger.Debug("memories retrieved",
		zap.Int("recalled", len(recalled)),
		zap.Int("selected", len(result.Selected)),
		zap.String("method", result.Method),
	)

	out := make([]store.ScoredMemory, 0, len(result.Selected))
	for _, sel := range result.Selected {
		out = append(out, store.ScoredMemory{Memory: sel.Item, Score: sel.Score})
	}
	return out, nil
}
