// Package retrieval fetches scope-filtered candidate pools from the
// config store, scores them against the turn's query embedding, applies
// business filters and optional reranking, and hands the ranked pool to a
// selection strategy.
package retrieval

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/alignd/internal/capabilities"
	"github.com/fyrsmithlabs/alignd/internal/selection"
)

// Config tunes one retriever.
type Config struct {
	Selection selection.Config `koanf:"selection"`

	// RerankEnabled delegates the sorted pool to the rerank capability.
	RerankEnabled bool `koanf:"rerank_enabled"`
	// RerankTopK caps how many documents the reranker returns; 0 means
	// all.
	RerankTopK int `koanf:"rerank_top_k"`
}

// Query carries the per-turn retrieval inputs.
type Query struct {
	TenantID  string
	AgentID   string
	Text      string
	Embedding []float32
	// Turn is the current turn number, used by cooldown filtering.
	Turn int
	// ActiveScenarioID and ActiveStepID widen the rule scopes searched.
	ActiveScenarioID string
	ActiveStepID     string
}

// twoTierPool implements the score/min_k split: when the subset clearing
// minScore already holds at least minK members, select from it; otherwise
// fall back to the full pool so the floor can still be met. items must be
// sorted descending.
func twoTierPool[T any](items []selection.ScoredItem[T], minScore float64, minK int) []selection.ScoredItem[T] {
	qualified := 0
	for _, it := range items {
		if it.Score < minScore {
			break
		}
		qualified++
	}
	if qualified >= minK {
		return items[:qualified]
	}
	return items
}

// selectFrom runs the two-tier split and the configured strategy.
func selectFrom[T any](items []selection.ScoredItem[T], cfg selection.Config) (selection.Result[T], error) {
	strategy, err := selection.New[T](cfg)
	if err != nil {
		return selection.Result[T]{}, err
	}
	pool := twoTierPool(items, cfg.MinScore, cfg.MinK)
	return strategy.Select(pool, cfg.MaxK, cfg.MinK)
}

// rerank delegates the sorted pool to the rerank capability and adopts
// its ordering and scores, mapping back to items by original index. An
// empty result or an error keeps the original ordering.
func rerank[T any](ctx context.Context, reranker capabilities.Reranker, query string, items []selection.ScoredItem[T], docs []string, topK int, logger *zap.Logger) []selection.ScoredItem[T] {
	if reranker == nil || len(items) == 0 {
		return items
	}
	ranked, err := reranker.Rerank(ctx, query, docs, topK)
	if err != nil {
		logger.Warn("rerank failed, keeping original order", zap.Error(err))
		return items
	}
	if len(ranked) == 0 {
		return items
	}

	out := make([]selection.ScoredItem[T], 0, len(ranked))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(items) {
			continue
		}
		score := r.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		out = append(out, selection.ScoredItem[T]{Item: items[r.Index].Item, Score: score})
	}
	if len(out) == 0 {
		return items
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// sortDescending orders scored items by score, high to low.
func sortDescending[T any](items []selection.ScoredItem[T]) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
}
