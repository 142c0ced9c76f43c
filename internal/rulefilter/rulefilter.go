// Package rulefilter asks the reasoning capability which candidate rules
// actually apply to a turn, in one batched call. Malformed or truncated
// reasoner output falls back to applying every candidate at medium
// relevance; the fallback is logged and flagged on each result so callers
// can observe degraded filtering.
package rulefilter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/alignd/internal/capabilities"
	"github.com/fyrsmithlabs/alignd/internal/rules"
)

// FallbackRelevance is the relevance assigned when the reasoner's output
// could not be parsed.
const FallbackRelevance = 0.5

// Evaluation is the reasoner's judgment for one rule.
type Evaluation struct {
	RuleID    string  `json:"rule_id"`
	Applies   bool    `json:"applies"`
	Relevance float64 `json:"relevance"`
	Reasoning string  `json:"reasoning"`
}

// Outcome is the filter result for a turn.
type Outcome struct {
	// Rules that apply, with relevance-informed reasoning attached.
	Rules []rules.MatchedRule

	// Degraded is true when the fallback policy was used.
	Degraded bool
}

type batchRequest struct {
	Message string        `json:"message"`
	Intent  string        `json:"intent"`
	Rules   []requestRule `json:"rules"`
}

type requestRule struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Condition string `json:"condition"`
	Action    string `json:"action"`
}

type batchResponse struct {
	Evaluations []Evaluation `json:"evaluations"`
}

const systemPrompt = "You decide which behavioral rules apply to a user turn. " +
	"Reply with only a JSON object of the form " +
	`{"evaluations":[{"rule_id":"...","applies":true,"relevance":0.8,"reasoning":"..."}]}` +
	" covering every rule."

// Filter batches rule applicability checks through the reasoner.
type Filter struct {
	reasoner capabilities.Reasoner
	logger   *zap.Logger
}

// New creates a Filter.
func New(reasoner capabilities.Reasoner, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{reasoner: reasoner, logger: logger}
}

// Apply filters candidates down to the rules the reasoner says apply.
// On any reasoner or parse failure every candidate is kept at medium
// relevance (the documented degraded-mode policy).
func (f *Filter) Apply(ctx context.Context, message, intent string, candidates []rules.MatchedRule) Outcome {
	if len(candidates) == 0 {
		return Outcome{}
	}
	if f.reasoner == nil {
		return f.fallback(candidates, "no reasoner configured")
	}

	req := batchRequest{Message: message, Intent: intent}
	for _, c := range candidates {
		req.Rules = append(req.Rules, requestRule{
			ID:        c.Rule.ID,
			Name:      c.Rule.Name,
			Condition: c.Rule.Condition,
			Action:    c.Rule.Action,
		})
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return f.fallback(candidates, fmt.Sprintf("marshaling request: %v", err))
	}

	text, err := f.reasoner.Generate(ctx, []capabilities.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: string(payload)},
	}, capabilities.GenerateOptions{Temperature: 0, MaxTokens: 2000})
	if err != nil {
		return f.fallback(candidates, fmt.Sprintf("reasoner call failed: %v", err))
	}

	evaluations, ok := parseEvaluations(text)
	if !ok {
		return f.fallback(candidates, "unparseable evaluations payload")
	}

	var kept []rules.MatchedRule
	for _, c := range candidates {
		ev, found := evaluations[c.Rule.ID]
		if !found {
			// A rule the reasoner skipped is kept: silence is not a veto.
			kept = append(kept, c)
			continue
		}
		if !ev.Applies {
			continue
		}
		m := c
		if ev.Reasoning != "" {
			m.Reasoning = ev.Reasoning
		}
		kept = append(kept, m)
	}
	return Outcome{Rules: kept}
}

// fallback applies every candidate at medium relevance.
func (f *Filter) fallback(candidates []rules.MatchedRule, cause string) Outcome {
	f.logger.Warn("rule filter degraded, applying all candidates at medium relevance",
		zap.String("cause", cause),
		zap.Int("candidates", len(candidates)),
	)
	kept := make([]rules.MatchedRule, len(candidates))
	for i, c := range candidates {
		m := c
		m.Score = FallbackRelevance
		m.Reasoning = "filter degraded: applied at medium relevance"
		kept[i] = m
	}
	return Outcome{Rules: kept, Degraded: true}
}

// parseEvaluations extracts the evaluations object from reasoner text,
// tolerating prose around the JSON. The boolean result makes the
// Ok/ParseFailure split explicit; the caller applies the fallback policy.
func parseEvaluations(text string) (map[string]Evaluation, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	var resp batchResponse
	if err := json.Unmarshal([]byte(text[start:end+1]), &resp); err != nil {
		return nil, false
	}
	if resp.Evaluations == nil {
		return nil, false
	}
	out := make(map[string]Evaluation, len(resp.Evaluations))
	for _, ev := range resp.Evaluations {
		out[ev.RuleID] = ev
	}
	return out, true
}
