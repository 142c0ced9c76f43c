// Package engine orchestrates the per-turn alignment pipeline: rule
// retrieval and filtering, relationship expansion, scenario navigation,
// memory recall, response generation, and constraint enforcement. Turns
// are sequential per session; the caller guarantees at most one
// concurrent turn per session ID.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/alignd/internal/capabilities"
	"github.com/fyrsmithlabs/alignd/internal/enforce"
	"github.com/fyrsmithlabs/alignd/internal/retrieval"
	"github.com/fyrsmithlabs/alignd/internal/rulefilter"
	"github.com/fyrsmithlabs/alignd/internal/rules"
	"github.com/fyrsmithlabs/alignd/internal/scenario"
	"github.com/fyrsmithlabs/alignd/internal/session"
	"github.com/fyrsmithlabs/alignd/internal/store"
	"github.com/fyrsmithlabs/alignd/internal/telemetry"
)

// ErrInvalidRequest is returned when a turn request is missing required
// fields.
var ErrInvalidRequest = errors.New("invalid turn request")

// TurnRequest is one user turn handed to the engine.
type TurnRequest struct {
	TenantID  string `json:"tenant_id"`
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`

	// Intent is the upstream-extracted intent label, if any.
	Intent string `json:"intent,omitempty"`

	// Signal is the scenario intent extracted upstream (NONE or EXIT).
	Signal scenario.Signal `json:"scenario_signal,omitempty"`

	// CustomerData holds fields extracted from this turn, merged into the
	// session before navigation.
	CustomerData map[string]any `json:"customer_data,omitempty"`

	// ToolResults are completed tool invocations from the previous turn,
	// consumed as-is: successes land in session variables, failures are
	// only surfaced to the responder.
	ToolResults []capabilities.ToolResult `json:"tool_results,omitempty"`
}

// RuleAudit is one applied rule in the turn's audit trail.
type RuleAudit struct {
	RuleID         string  `json:"rule_id"`
	Name           string  `json:"name,omitempty"`
	Score          float64 `json:"score"`
	Reasoning      string  `json:"reasoning,omitempty"`
	HardConstraint bool    `json:"hard_constraint,omitempty"`
}

// TurnResult is the engine's decision record for one turn.
type TurnResult struct {
	SessionID  string `json:"session_id"`
	TurnNumber int    `json:"turn_number"`
	Response   string `json:"response"`

	Rules           []RuleAudit `json:"rules,omitempty"`
	FilterDegraded  bool        `json:"filter_degraded,omitempty"`
	AddedRuleIDs    []string    `json:"added_rule_ids,omitempty"`
	ExcludedRuleIDs []string    `json:"excluded_rule_ids,omitempty"`

	Navigation  scenario.Decision    `json:"navigation"`
	Memories    []store.ScoredMemory `json:"memories,omitempty"`
	Enforcement enforce.Result       `json:"enforcement"`
}

// Responder produces candidate responses. Prompt construction stays
// behind this interface; the engine only hands over the decision context.
// Regenerate satisfies enforce.Generator so the validator can drive
// bounded retries through the same collaborator.
type Responder interface {
	Respond(ctx context.Context, pc PromptContext) (string, error)
	Regenerate(ctx context.Context, prior string, violations []enforce.Violation) (string, error)
}

// PromptContext is everything the responder may use for one turn.
type PromptContext struct {
	Message          string
	Intent           string
	Rules            []rules.MatchedRule
	ActiveScenarioID string
	ActiveStepID     string
	Memories         []store.ScoredMemory
	ToolResults      []capabilities.ToolResult
}

// Tunables are the hot-swappable parts of the engine: everything driven
// by the reloadable selection and enforcement configuration. Swapped
// atomically as a unit so a turn never sees a half-applied config.
type Tunables struct {
	Rules     *retrieval.RuleRetriever
	Scenarios *retrieval.ScenarioRetriever
	Memories  *retrieval.MemoryRetriever
	Validator *enforce.Validator

	// FallbackResponse replaces the model response when enforcement
	// exhausts its regeneration budget.
	FallbackResponse string
}

// MemoryWriter persists turn snippets for later recall. Writes are
// best-effort; a failed write never fails the turn.
type MemoryWriter interface {
	Add(ctx context.Context, mem store.ConversationMemory) (string, error)
}

// Deps are the engine's fixed collaborators.
type Deps struct {
	Config    store.ConfigStore
	Sessions  store.SessionStore
	Embedder  capabilities.Embedder
	Responder Responder
	Filter    *rulefilter.Filter
	Expander  *rules.Expander
	Navigator *scenario.Navigator
	Memories  MemoryWriter
	Metrics   *telemetry.Metrics
	Logger    *zap.Logger
}

// Engine is the per-turn pipeline orchestrator.
type Engine struct {
	deps     Deps
	tunables atomic.Pointer[Tunables]
	logger   *zap.Logger
}

// New creates an Engine. Config, Sessions, Embedder, Responder and the
// Tunables retrievers/validator are required; Filter, Memories and
// Metrics may be nil.
func New(deps Deps, tunables Tunables) (*Engine, error) {
	if deps.Config == nil || deps.Sessions == nil {
		return nil, errors.New("engine requires config and session stores")
	}
	if deps.Embedder == nil {
		return nil, errors.New("engine requires an embedder")
	}
	if deps.Responder == nil {
		return nil, errors.New("engine requires a responder")
	}
	if tunables.Rules == nil || tunables.Scenarios == nil || tunables.Validator == nil {
		return nil, errors.New("engine requires rule/scenario retrievers and a validator")
	}
	if deps.Expander == nil {
		deps.Expander = rules.NewExpander(2)
	}
	if deps.Navigator == nil {
		deps.Navigator = scenario.NewNavigator(0)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	e := &Engine{deps: deps, logger: deps.Logger}
	e.tunables.Store(&tunables)
	return e, nil
}

// Swap atomically replaces the hot-swappable components. Turns in flight
// finish on the set they loaded at turn start.
func (e *Engine) Swap(t Tunables) {
	e.tunables.Store(&t)
}

// ProcessTurn runs the full decision pipeline for one user turn.
func (e *Engine) ProcessTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	started := time.Now()
	result, err := e.processTurn(ctx, req)
	e.observeTurn(result, err, time.Since(started))
	return result, err
}

func (e *Engine) processTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if req.TenantID == "" || req.AgentID == "" {
		return TurnResult{}, fmt.Errorf("%w: tenant_id and agent_id are required", ErrInvalidRequest)
	}
	if req.Message == "" {
		return TurnResult{}, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}

	t := e.tunables.Load()

	sess, err := e.loadSession(ctx, req)
	if err != nil {
		return TurnResult{}, err
	}
	sess.TurnNumber++
	e.foldTurnInputs(sess, req)

	embedding, err := e.deps.Embedder.Embed(ctx, req.Message)
	if err != nil {
		return TurnResult{}, fmt.Errorf("embedding turn message: %w", err)
	}

	query := retrieval.Query{
		TenantID:         req.TenantID,
		AgentID:          req.AgentID,
		Text:             req.Message,
		Embedding:        embedding,
		Turn:             sess.TurnNumber,
		ActiveScenarioID: sess.ActiveScenarioID,
		ActiveStepID:     sess.ActiveStepID,
	}

	matched, err := t.Rules.Retrieve(ctx, query, sess)
	if err != nil {
		return TurnResult{}, fmt.Errorf("retrieving rules: %w", err)
	}

	filterDegraded := false
	if e.deps.Filter != nil && len(matched) > 0 {
		outcome := e.deps.Filter.Apply(ctx, req.Message, req.Intent, matched)
		matched = outcome.Rules
		filterDegraded = outcome.Degraded
		if filterDegraded && e.deps.Metrics != nil {
			e.deps.Metrics.IncParseFallback("rulefilter")
		}
	}

	expansion, err := e.expand(ctx, req, matched)
	if err != nil {
		return TurnResult{}, err
	}
	applied := expansion.Rules

	navigation, err := e.navigate(ctx, t, query, sess, req.Signal)
	if err != nil {
		return TurnResult{}, err
	}

	var memories []store.ScoredMemory
	if t.Memories != nil {
		memories, err = t.Memories.Retrieve(ctx, query)
		if err != nil {
			// Memory recall is advisory; a failed recall never fails the turn.
			e.logger.Warn("memory recall failed", zap.Error(err))
			memories = nil
		}
	}

	response, err := e.deps.Responder.Respond(ctx, PromptContext{
		Message:          req.Message,
		Intent:           req.Intent,
		Rules:            applied,
		ActiveScenarioID: sess.ActiveScenarioID,
		ActiveStepID:     sess.ActiveStepID,
		Memories:         memories,
		ToolResults:      req.ToolResults,
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("generating response: %w", err)
	}

	enforcement, err := e.enforceResponse(ctx, t, req, sess, response, applied)
	if err != nil {
		return TurnResult{}, err
	}
	if !enforcement.Passed {
		enforcement.FinalResponse = t.FallbackResponse
		enforcement.FallbackUsed = true
	}

	for _, m := range applied {
		sess.RecordRuleFire(m.Rule.ID, sess.TurnNumber)
	}
	if err := e.deps.Sessions.Save(ctx, sess); err != nil {
		return TurnResult{}, fmt.Errorf("saving session: %w", err)
	}
	e.recordMemory(ctx, req, sess, enforcement)

	return TurnResult{
		SessionID:       sess.ID,
		TurnNumber:      sess.TurnNumber,
		Response:        enforcement.FinalResponse,
		Rules:           auditTrail(applied),
		FilterDegraded:  filterDegraded,
		AddedRuleIDs:    expansion.Added,
		ExcludedRuleIDs: expansion.Excluded,
		Navigation:      navigation,
		Memories:        memories,
		Enforcement:     enforcement,
	}, nil
}

// recordMemory stores the exchange for later recall. Fallback responses
// are skipped: they carry no conversational signal worth recalling.
func (e *Engine) recordMemory(ctx context.Context, req TurnRequest, sess *session.Session, enforcement enforce.Result) {
	if e.deps.Memories == nil || enforcement.FallbackUsed {
		return
	}
	_, err := e.deps.Memories.Add(ctx, store.ConversationMemory{
		TenantID:  req.TenantID,
		AgentID:   req.AgentID,
		SessionID: sess.ID,
		Text:      fmt.Sprintf("user: %s\nassistant: %s", req.Message, enforcement.FinalResponse),
	})
	if err != nil {
		e.logger.Warn("memory write failed", zap.Error(err))
	}
}

// loadSession fetches the session or creates a fresh one for unknown or
// empty session IDs.
func (e *Engine) loadSession(ctx context.Context, req TurnRequest) (*session.Session, error) {
	if req.SessionID == "" {
		return session.New("", req.TenantID, req.AgentID), nil
	}
	sess, err := e.deps.Sessions.Get(ctx, req.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return session.New(req.SessionID, req.TenantID, req.AgentID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return sess, nil
}

// foldTurnInputs merges per-turn extracted data and tool outputs into the
// session before navigation runs, so skip-ahead sees them.
func (e *Engine) foldTurnInputs(sess *session.Session, req TurnRequest) {
	for k, v := range req.CustomerData {
		sess.CustomerData[k] = v
	}
	for _, tr := range req.ToolResults {
		if tr.Success() {
			sess.Variables[tr.Name] = tr.Output
		}
	}
}

// expand grows the matched set over the rule relationship graph.
func (e *Engine) expand(ctx context.Context, req TurnRequest, matched []rules.MatchedRule) (rules.Expansion, error) {
	rels, err := e.deps.Config.GetRuleRelationships(ctx, req.TenantID, req.AgentID)
	if err != nil {
		return rules.Expansion{}, fmt.Errorf("fetching rule relationships: %w", err)
	}
	if len(rels) == 0 {
		return rules.Expansion{Rules: matched}, nil
	}

	catalog, err := e.ruleCatalog(ctx, req)
	if err != nil {
		return rules.Expansion{}, err
	}
	return e.deps.Expander.Expand(matched, catalog, rels), nil
}

// ruleCatalog indexes every rule of the tenant/agent pair by ID for the
// expander's target lookups.
func (e *Engine) ruleCatalog(ctx context.Context, req TurnRequest) (map[string]rules.Rule, error) {
	all, err := e.deps.Config.GetRules(ctx, store.RuleQuery{TenantID: req.TenantID, AgentID: req.AgentID})
	if err != nil {
		return nil, fmt.Errorf("fetching rule catalog: %w", err)
	}
	catalog := make(map[string]rules.Rule, len(all))
	for _, r := range all {
		catalog[r.ID] = r
	}
	return catalog, nil
}

// navigate retrieves scenario candidates, decides the navigation action,
// and folds it into the session.
func (e *Engine) navigate(ctx context.Context, t *Tunables, query retrieval.Query, sess *session.Session, signal scenario.Signal) (scenario.Decision, error) {
	candidates, err := t.Scenarios.Retrieve(ctx, query)
	if err != nil {
		return scenario.Decision{}, fmt.Errorf("retrieving scenarios: %w", err)
	}

	active, err := e.activeScenario(ctx, sess)
	if err != nil {
		return scenario.Decision{}, err
	}

	decision := e.deps.Navigator.Next(sess, active, signal, candidates)

	applyTarget := active
	if decision.Action == scenario.ActionStart {
		for i := range candidates {
			if candidates[i].Scenario.ID == decision.ScenarioID {
				applyTarget = &candidates[i].Scenario
				break
			}
		}
	}
	scenario.Apply(decision, sess, applyTarget)

	if decision.Action == scenario.ActionRelocalize && e.deps.Metrics != nil {
		e.deps.Metrics.IncRelocalization()
	}
	return decision, nil
}

// activeScenario resolves the session's current scenario definition, nil
// when the session has none or the definition has been removed.
func (e *Engine) activeScenario(ctx context.Context, sess *session.Session) (*scenario.Scenario, error) {
	if sess.ActiveScenarioID == "" {
		return nil, nil
	}
	all, err := e.deps.Config.GetScenarios(ctx, sess.TenantID, sess.AgentID, false)
	if err != nil {
		return nil, fmt.Errorf("fetching scenarios: %w", err)
	}
	for i := range all {
		if all[i].ID == sess.ActiveScenarioID {
			return &all[i], nil
		}
	}
	return nil, nil
}

// enforceResponse runs the dual-lane validator over the candidate
// response, wiring the responder in as the regeneration collaborator.
func (e *Engine) enforceResponse(ctx context.Context, t *Tunables, req TurnRequest, sess *session.Session, response string, applied []rules.MatchedRule) (enforce.Result, error) {
	matched := make([]rules.Rule, 0, len(applied))
	for _, m := range applied {
		matched = append(matched, m.Rule)
	}

	globalHard, err := e.globalHardRules(ctx, req)
	if err != nil {
		return enforce.Result{}, err
	}

	vars := func(candidate string) map[string]any {
		out := make(map[string]any, len(sess.CustomerData)+len(sess.Variables)+2)
		for k, v := range sess.CustomerData {
			out[k] = v
		}
		for k, v := range sess.Variables {
			out[k] = v
		}
		out["response"] = candidate
		out["response_length"] = len(candidate)
		return out
	}

	result := t.Validator.Validate(ctx, response, matched, globalHard, vars, e.deps.Responder)

	if e.deps.Metrics != nil {
		for i := 0; i < result.RegenerationAttempts; i++ {
			e.deps.Metrics.IncRegeneration()
		}
		for _, v := range result.Violations {
			e.deps.Metrics.IncViolation(v.Lane)
		}
	}
	return result, nil
}

// globalHardRules is the tenant's GLOBAL-scope enabled hard-constraint
// pool, consulted by the validator when AlwaysEnforceGlobal is set.
func (e *Engine) globalHardRules(ctx context.Context, req TurnRequest) ([]rules.Rule, error) {
	all, err := e.deps.Config.GetRules(ctx, store.RuleQuery{
		TenantID: req.TenantID, AgentID: req.AgentID,
		Scope: rules.ScopeGlobal, EnabledOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching global hard rules: %w", err)
	}
	hard := all[:0]
	for _, r := range all {
		if r.HardConstraint {
			hard = append(hard, r)
		}
	}
	return hard, nil
}

func (e *Engine) observeTurn(result TurnResult, err error, elapsed time.Duration) {
	if e.deps.Metrics == nil {
		return
	}
	outcome := telemetry.OutcomePassed
	switch {
	case err != nil:
		outcome = telemetry.OutcomeError
	case result.Enforcement.FallbackUsed:
		outcome = telemetry.OutcomeExhausted
	}
	e.deps.Metrics.ObserveTurn(outcome, elapsed)
	if err == nil {
		e.deps.Metrics.ObserveRulesSelected(len(result.Rules))
	}
}

func auditTrail(applied []rules.MatchedRule) []RuleAudit {
	if len(applied) == 0 {
		return nil
	}
	out := make([]RuleAudit, 0, len(applied))
	for _, m := range applied {
		out = append(out, RuleAudit{
			RuleID:         m.Rule.ID,
			Name:           m.Rule.Name,
			Score:          m.Score,
			Reasoning:      m.Reasoning,
			HardConstraint: m.Rule.HardConstraint,
		})
	}
	return out
}
