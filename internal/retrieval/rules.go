package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/alignd/internal/capabilities"
	"github.com/fyrsmithlabs/alignd/internal/rules"
	"github.com/fyrsmithlabs/alignd/internal/selection"
	"github.com/fyrsmithlabs/alignd/internal/session"
	"github.com/fyrsmithlabs/alignd/internal/similarity"
	"github.com/fyrsmithlabs/alignd/internal/store"
)

// RuleRetriever selects the behavioral rules relevant to a turn across
// every active scope: global, the active scenario, and the active step.
type RuleRetriever struct {
	store    store.ConfigStore
	reranker capabilities.Reranker
	cfg      Config
	logger   *zap.Logger
}

// NewRuleRetriever creates a RuleRetriever. reranker may be nil.
func NewRuleRetriever(configStore store.ConfigStore, reranker capabilities.Reranker, cfg Config, logger *zap.Logger) *RuleRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleRetriever{store: configStore, reranker: reranker, cfg: cfg, logger: logger}
}

// Retrieve fetches, scores, filters, optionally reranks, and selects
// rules for the turn. sess supplies fire counters for the business
// filters.
func (r *RuleRetriever) Retrieve(ctx context.Context, q Query, sess *session.Session) ([]rules.MatchedRule, error) {
	pool, err := r.candidatePool(ctx, q)
	if err != nil {
		return nil, err
	}

	scored := make([]selection.ScoredItem[rules.Rule], 0, len(pool))
	for _, rule := range pool {
		if !admit(rule, sess, q.Turn) {
			continue
		}
		scored = append(scored, selection.ScoredItem[rules.Rule]{
			Item:  rule,
			Score: similarity.Score(q.Embedding, rule.Embedding),
		})
	}
	sortDescending(scored)

	if r.cfg.RerankEnabled && r.reranker != nil {
		docs := make([]string, len(scored))
		for i, item := range scored {
			docs[i] = item.Item.Condition + " " + item.Item.Action
		}
		scored = rerank(ctx, r.reranker, q.Text, scored, docs, r.cfg.RerankTopK, r.logger)
	}

	result, err := selectFrom(scored, r.cfg.Selection)
	if err != nil {
		return nil, fmt.Errorf("selecting rules: %w", err)
	}
	r.logger.Debug("rules retrieved",
		zap.Int("pool", len(pool)),
		zap.Int("selected", len(result.Selected)),
		zap.String("method", result.Method),
		zap.Float64("cutoff", result.CutoffScore),
	)

	matched := make([]rules.MatchedRule, 0, len(result.Selected))
	for _, sel := range result.Selected {
		matched = append(matched, rules.MatchedRule{
			Rule:      sel.Item,
			Score:     sel.Score,
			Reasoning: fmt.Sprintf("retrieved via %s selection", result.Method),
		})
	}
	return matched, nil
}

// candidatePool merges enabled rules across all scopes active for the
// turn, deduplicated by rule ID.
func (r *RuleRetriever) candidatePool(ctx context.Context, q Query) ([]rules.Rule, error) {
	queries := []store.RuleQuery{
		{TenantID: q.TenantID, AgentID: q.AgentID, Scope: rules.ScopeGlobal, EnabledOnly: true},
	}
	if q.ActiveScenarioID != "" {
		queries = append(queries, store.RuleQuery{
			TenantID: q.TenantID, AgentID: q.AgentID,
			Scope: rules.ScopeScenario, ScopeID: q.ActiveScenarioID, EnabledOnly: true,
		})
	}
	if q.ActiveStepID != "" {
		queries = append(queries, store.RuleQuery{
			TenantID: q.TenantID, AgentID: q.AgentID,
			Scope: rules.ScopeStep, ScopeID: q.ActiveStepID, EnabledOnly: true,
		})
	}

	seen := make(map[string]bool)
	var pool []rules.Rule
	for _, query := range queries {
		batch, err := r.store.GetRules(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("fetching %s rules: %w", query.Scope, err)
		}
		for _, rule := range batch {
			if seen[rule.ID] {
				continue
			}
			seen[rule.ID] = true
			pool = append(pool, rule)
		}
	}
	return pool, nil
}

// admit applies the business filters: disabled rules, per-session fire
// caps, and cooldown windows.
func admit(r rules.Rule, sess *session.Session, turn int) bool {
	if !r.Enabled {
		return false
	}
	if sess == nil {
		return true
	}
	if r.MaxFiresPerSession > 0 && sess.RuleFires[r.ID] >= r.MaxFiresPerSession {
		return false
	}
	if r.CooldownTurns > 0 {
		if last, fired := sess.RuleLastFiredTurn[r.ID]; fired && turn-last <= r.CooldownTurns {
			return false
		}
	}
	return true
}
