package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/alignd/internal/capabilities"
	"github.com/fyrsmithlabs/alignd/internal/scenario"
	"github.com/fyrsmithlabs/alignd/internal/selection"
	"github.com/fyrsmithlabs/alignd/internal/similarity"
	"github.com/fyrsmithlabs/alignd/internal/store"
)

// ScenarioRetriever ranks scenarios eligible to start (or relocalize
// into) by entry-condition similarity to the turn.
type ScenarioRetriever struct {
	store    store.ConfigStore
	reranker capabilities.Reranker
	cfg      Config
	logger   *zap.Logger
}

// NewScenarioRetriever creates a ScenarioRetriever. reranker may be nil.
func NewScenarioRetriever(configStore store.ConfigStore, reranker capabilities.Reranker, cfg Config, logger *zap.Logger) *ScenarioRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScenarioRetriever{store: configStore, reranker: reranker, cfg: cfg, logger: logger}
}

// Retrieve returns candidate scenarios sorted descending by score.
func (r *ScenarioRetriever) Retrieve(ctx context.Context, q Query) ([]scenario.Candidate, error) {
	pool, err := r.store.GetScenarios(ctx, q.TenantID, q.AgentID, true)
	if err != nil {
		return nil, fmt.Errorf("fetching scenarios: %w", err)
	}

	scored := make([]selection.ScoredItem[scenario.Scenario], 0, len(pool))
	for _, sc := range pool {
		scored = append(scored, selection.ScoredItem[scenario.Scenario]{
			Item:  sc,
			Score: similarity.Score(q.Embedding, sc.Embedding),
		})
	}
	sortDescending(scored)

	if r.cfg.RerankEnabled && r.reranker != nil {
		docs := make([]string, len(scored))
		for i, item := range scored {
			docs[i] = item.Item.Name
		}
		scored = rerank(ctx, r.reranker, q.Text, scored, docs, r.cfg.RerankTopK, r.logger)
	}

	result, err := selectFrom(scored, r.cfg.Selection)
	if err != nil {
		return nil, fmt.Errorf("selecting scenarios: %w", err)
	}
	r.logger.Debug("scenarios retrieved",
		zap.Int("pool", len(pool)),
		zap.Int("selected", len(result.Selected)),
		zap.String("method", result.Method),
	)

	candidates := make([]scenario.Candidate, 0, len(result.Selected))
	for _, sel := range result.Selected {
		candidates = append(candidates, scenario.Candidate{Scenario: sel.Item, Score: sel.Score})
	}
	return candidates, nil
}
