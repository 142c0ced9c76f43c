// Package enforce validates candidate responses against hard-constraint
// rules. Two lanes: a deterministic expression check over named
// variables, and an externally judged check for rules without an
// expression. Violations trigger bounded regeneration.
package enforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/alignd/internal/capabilities"
	"github.com/fyrsmithlabs/alignd/internal/rules"
)

// Lane names reported on violations.
const (
	LaneExpression = "expression"
	LaneJudged     = "judged"
)

// Violation is one failed constraint check.
type Violation struct {
	RuleID string `json:"rule_id"`
	Lane   string `json:"lane"`
	Reason string `json:"reason"`
}

// Result is the terminal outcome of one validation, including the
// regeneration history. Exhausted retries are a Result with Passed=false,
// never an error; the caller decides whether to substitute a fallback.
type Result struct {
	Passed                bool        `json:"passed"`
	Violations            []Violation `json:"violations,omitempty"`
	RegenerationAttempted bool        `json:"regeneration_attempted"`
	RegenerationAttempts  int         `json:"regeneration_attempts"`
	RegenerationSucceeded bool        `json:"regeneration_succeeded"`
	FinalResponse         string      `json:"final_response"`
	FallbackUsed          bool        `json:"fallback_used"`
}

// Config bounds the validator.
type Config struct {
	// MaxRetries caps regeneration calls per validation.
	MaxRetries int `koanf:"max_retries"`

	// AlwaysEnforceGlobal forces GLOBAL-scope hard constraints into every
	// validation even when absent from the matched set.
	AlwaysEnforceGlobal bool `koanf:"always_enforce_global"`
}

// VarsFunc supplies the named variables visible to lane-1 expressions for
// a given candidate response. Variables extracted from the response must
// be recomputed per candidate, so this is a function rather than a map.
type VarsFunc func(response string) map[string]any

// Generator regenerates a response using the prior, violating response
// and its violations as feedback.
type Generator interface {
	Regenerate(ctx context.Context, prior string, violations []Violation) (string, error)
}

// Validator is the dual-lane constraint checker.
type Validator struct {
	cfg    Config
	judge  capabilities.Reasoner
	logger *zap.Logger
}

// New creates a Validator. judge may be nil when no judged-lane rules
// exist; judged checks then fail conservatively.
func New(cfg Config, judge capabilities.Reasoner, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{cfg: cfg, judge: judge, logger: logger}
}

// Validate checks response against every applicable hard constraint and
// regenerates up to MaxRetries times while violations remain.
// globalHard is the tenant's GLOBAL-scope hard-constraint pool, consulted
// only when AlwaysEnforceGlobal is set.
func (v *Validator) Validate(ctx context.Context, response string, matched []rules.Rule, globalHard []rules.Rule, vars VarsFunc, gen Generator) Result {
	applicable := v.applicableRules(matched, globalHard)
	if len(applicable) == 0 {
		return Result{Passed: true, FinalResponse: response}
	}
	if vars == nil {
		vars = func(string) map[string]any { return nil }
	}

	current := response
	violations := v.check(ctx, current, applicable, vars)
	attempts := 0
	for len(violations) > 0 && attempts < v.cfg.MaxRetries && gen != nil {
		regenerated, err := gen.Regenerate(ctx, current, violations)
		attempts++
		if err != nil {
			v.logger.Warn("regeneration failed", zap.Int("attempt", attempts), zap.Error(err))
			break
		}
		current = regenerated
		violations = v.check(ctx, current, applicable, vars)
	}

	passed := len(violations) == 0
	return Result{
		Passed:                passed,
		Violations:            violations,
		RegenerationAttempted: attempts > 0,
		RegenerationAttempts:  attempts,
		RegenerationSucceeded: passed && attempts > 0,
		FinalResponse:         current,
	}
}

// applicableRules selects hard constraints from the matched set, plus the
// global pool when configured, deduplicated by rule ID.
func (v *Validator) applicableRules(matched, globalHard []rules.Rule) []rules.Rule {
	seen := make(map[string]bool, len(matched))
	var out []rules.Rule
	for _, r := range matched {
		if !r.HardConstraint || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	if v.cfg.AlwaysEnforceGlobal {
		for _, r := range globalHard {
			if !r.HardConstraint || r.Scope != rules.ScopeGlobal || seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	return out
}

// check runs both lanes across all applicable rules.
func (v *Validator) check(ctx context.Context, response string, applicable []rules.Rule, vars VarsFunc) []Violation {
	var violations []Violation
	for _, r := range applicable {
		var violation *Violation
		if r.EnforceExpression != "" {
			violation = v.checkExpression(r, vars(response))
		} else {
			violation = v.checkJudged(ctx, r, response)
		}
		if violation != nil {
			violations = append(violations, *violation)
		}
	}
	return violations
}

// checkExpression evaluates the rule's boolean expression against the
// named variables. The evaluator is expression-only: no statements, no
// I/O, and only the built-in helpers (len, min, max, upper, lower,
// numeric/string casts). Any compile or runtime failure is a failed
// check with the cause in the reason, never a crash.
func (v *Validator) checkExpression(r rules.Rule, vars map[string]any) *Violation {
	if vars == nil {
		vars = map[string]any{}
	}
	program, err := expr.Compile(r.EnforceExpression, expr.Env(vars), expr.AsBool())
	if err != nil {
		return &Violation{
			RuleID: r.ID,
			Lane:   LaneExpression,
			Reason: fmt.Sprintf("expression %q failed to compile: %v", r.EnforceExpression, err),
		}
	}
	out, err := expr.Run(program, vars)
	if err != nil {
		return &Violation{
			RuleID: r.ID,
			Lane:   LaneExpression,
			Reason: fmt.Sprintf("expression %q failed to evaluate: %v", r.EnforceExpression, err),
		}
	}
	ok, isBool := out.(bool)
	if !isBool {
		return &Violation{
			RuleID: r.ID,
			Lane:   LaneExpression,
			Reason: fmt.Sprintf("expression %q did not produce a boolean", r.EnforceExpression),
		}
	}
	if !ok {
		return &Violation{
			RuleID: r.ID,
			Lane:   LaneExpression,
			Reason: fmt.Sprintf("constraint %q not satisfied", r.EnforceExpression),
		}
	}
	return nil
}

// judgeSystemPrompt frames the lane-2 contract.
const judgeSystemPrompt = "You are a strict compliance judge. Evaluate whether the response satisfies the constraint. Reply with exactly PASS, or FAIL: <reason>."

// checkJudged delegates to the reasoning capability. Missing or ambiguous
// judge output is treated conservatively as a failure.
func (v *Validator) checkJudged(ctx context.Context, r rules.Rule, response string) *Violation {
	if v.judge == nil {
		return &Violation{RuleID: r.ID, Lane: LaneJudged, Reason: "no judge configured for judged constraint"}
	}
	prompt := fmt.Sprintf("Constraint: %s\nWhen it applies: %s\n\nResponse to evaluate:\n%s", r.Action, r.Condition, response)
	text, err := v.judge.Generate(ctx, []capabilities.Message{
		{Role: "system", Content: judgeSystemPrompt},
		{Role: "user", Content: prompt},
	}, capabilities.GenerateOptions{Temperature: 0, MaxTokens: 200})
	if err != nil {
		v.logger.Warn("judge call failed, failing conservatively", zap.String("rule_id", r.ID), zap.Error(err))
		return &Violation{RuleID: r.ID, Lane: LaneJudged, Reason: fmt.Sprintf("judge unavailable: %v", err)}
	}

	verdict, reason, ok := ParseVerdict(text)
	if !ok {
		v.logger.Warn("unparseable judge verdict, failing conservatively", zap.String("rule_id", r.ID))
		return &Violation{RuleID: r.ID, Lane: LaneJudged, Reason: "judge verdict unparseable"}
	}
	if verdict {
		return nil
	}
	if reason == "" {
		reason = "judge reported a violation"
	}
	return &Violation{RuleID: r.ID, Lane: LaneJudged, Reason: reason}
}

// ParseVerdict interprets judge output: a leading PASS passes, a leading
// FAIL fails with the text after the colon as reason. Anything else is
// unparseable.
func ParseVerdict(text string) (passed bool, reason string, ok bool) {
	trimmed := strings.TrimSpace(text)
	upper := strings.ToUpper(trimmed)
	switch {
	case strings.HasPrefix(upper, "PASS"):
		return true, "", true
	case strings.HasPrefix(upper, "FAIL"):
		rest := trimmed[len("FAIL"):]
		rest = strings.TrimPrefix(rest, ":")
		return false, strings.TrimSpace(rest), true
	default:
		return false, "", false
	}
}
