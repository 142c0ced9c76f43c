package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/alignd/internal/capabilities"
	"github.com/fyrsmithlabs/alignd/internal/enforce"
	"github.com/fyrsmithlabs/alignd/internal/retrieval"
	"github.com/fyrsmithlabs/alignd/internal/rules"
	"github.com/fyrsmithlabs/alignd/internal/scenario"
	"github.com/fyrsmithlabs/alignd/internal/selection"
	"github.com/fyrsmithlabs/alignd/internal/store"
)

// fakeEmbedder returns the same vector for every text.
type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vector, f.err
}

// scriptedResponder replays canned responses and regenerations.
type scriptedResponder struct {
	responses   []string
	regens      []string
	lastContext PromptContext
	regenCalls  int
}

func (s *scriptedResponder) Respond(_ context.Context, pc PromptContext) (string, error) {
	s.lastContext = pc
	if len(s.responses) == 0 {
		return "ok", nil
	}
	out := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return out, nil
}

func (s *scriptedResponder) Regenerate(context.Context, string, []enforce.Violation) (string, error) {
	s.regenCalls++
	if len(s.regens) == 0 {
		return "regenerated", nil
	}
	out := s.regens[0]
	if len(s.regens) > 1 {
		s.regens = s.regens[1:]
	}
	return out, nil
}

var queryVec = []float32{1, 0}

func openRetrievalConfig() retrieval.Config {
	return retrieval.Config{Selection: selection.Config{
		Strategy: selection.MethodFixedK,
		MaxK:     10,
	}}
}

func newTestEngine(t *testing.T, mem *store.Memory, responder Responder, enfCfg enforce.Config, fallback string) *Engine {
	t.Helper()
	e, err := New(Deps{
		Config:    mem,
		Sessions:  mem,
		Embedder:  &fakeEmbedder{vector: queryVec},
		Responder: responder,
	}, Tunables{
		Rules:            retrieval.NewRuleRetriever(mem, nil, openRetrievalConfig(), nil),
		Scenarios:        retrieval.NewScenarioRetriever(mem, nil, openRetrievalConfig(), nil),
		Validator:        enforce.New(enfCfg, nil, nil),
		FallbackResponse: fallback,
	})
	require.NoError(t, err)
	return e
}

func turnRequest(sessionID string) TurnRequest {
	return TurnRequest{
		TenantID:  "t1",
		AgentID:   "a1",
		SessionID: sessionID,
		Message:   "I want to cancel my subscription",
	}
}

func enabledRule(id string) rules.Rule {
	return rules.Rule{
		ID: id, TenantID: "t1", AgentID: "a1",
		Scope: rules.ScopeGlobal, Enabled: true, Embedding: queryVec,
	}
}

func TestProcessTurnCreatesSessionAndFiresRules(t *testing.T) {
	mem := store.NewMemory()
	mem.PutRule(enabledRule("r1"))

	responder := &scriptedResponder{responses: []string{"sure, cancelling now"}}
	e := newTestEngine(t, mem, responder, enforce.Config{MaxRetries: 2}, "fallback")

	result, err := e.ProcessTurn(context.Background(), turnRequest("s1"))
	require.NoError(t, err)

	assert.Equal(t, "s1", result.SessionID)
	assert.Equal(t, 1, result.TurnNumber)
	assert.Equal(t, "sure, cancelling now", result.Response)
	require.Len(t, result.Rules, 1)
	assert.Equal(t, "r1", result.Rules[0].RuleID)
	assert.True(t, result.Enforcement.Passed)
	require.Len(t, responder.lastContext.Rules, 1)

	sess, err := mem.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.TurnNumber)
	assert.Equal(t, 1, sess.RuleFires["r1"])
	assert.Equal(t, 1, sess.RuleLastFiredTurn["r1"])
}

func TestProcessTurnIncrementsTurnNumber(t *testing.T) {
	mem := store.NewMemory()
	e := newTestEngine(t, mem, &scriptedResponder{}, enforce.Config{}, "fallback")

	for want := 1; want <= 3; want++ {
		result, err := e.ProcessTurn(context.Background(), turnRequest("s1"))
		require.NoError(t, err)
		assert.Equal(t, want, result.TurnNumber)
	}
}

func TestProcessTurnRejectsInvalidRequests(t *testing.T) {
	e := newTestEngine(t, store.NewMemory(), &scriptedResponder{}, enforce.Config{}, "fallback")

	tests := []struct {
		name string
		req  TurnRequest
	}{
		{"missing tenant", TurnRequest{AgentID: "a1", Message: "hi"}},
		{"missing agent", TurnRequest{TenantID: "t1", Message: "hi"}},
		{"missing message", TurnRequest{TenantID: "t1", AgentID: "a1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ProcessTurn(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestProcessTurnStartsScenario(t *testing.T) {
	mem := store.NewMemory()
	mem.PutScenario(scenario.Scenario{
		ID: "sc1", TenantID: "t1", AgentID: "a1", Enabled: true, Version: 2,
		EntryStepID: "step-1",
		Steps:       []scenario.Step{{ID: "step-1"}},
		Embedding:   queryVec,
	})

	e := newTestEngine(t, mem, &scriptedResponder{}, enforce.Config{}, "fallback")

	result, err := e.ProcessTurn(context.Background(), turnRequest("s1"))
	require.NoError(t, err)

	assert.Equal(t, scenario.ActionStart, result.Navigation.Action)
	assert.Equal(t, "sc1", result.Navigation.ScenarioID)
	assert.Equal(t, "step-1", result.Navigation.TargetStepID)

	sess, err := mem.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "sc1", sess.ActiveScenarioID)
	assert.Equal(t, "step-1", sess.ActiveStepID)
	assert.Equal(t, 2, sess.ScenarioVersion)
	assert.Len(t, sess.StepHistory, 1)
}

func TestProcessTurnExitsScenario(t *testing.T) {
	mem := store.NewMemory()
	mem.PutScenario(scenario.Scenario{
		ID: "sc1", TenantID: "t1", AgentID: "a1", Enabled: true,
		EntryStepID: "step-1",
		Steps:       []scenario.Step{{ID: "step-1"}},
		Embedding:   queryVec,
	})
	e := newTestEngine(t, mem, &scriptedResponder{}, enforce.Config{}, "fallback")

	_, err := e.ProcessTurn(context.Background(), turnRequest("s1"))
	require.NoError(t, err)

	req := turnRequest("s1")
	req.Signal = scenario.SignalExit
	result, err := e.ProcessTurn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, scenario.ActionExit, result.Navigation.Action)

	sess, err := mem.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, sess.ActiveScenarioID)
}

func TestProcessTurnExpandsRelationships(t *testing.T) {
	mem := store.NewMemory()
	mem.PutRule(enabledRule("r-matched"))
	dep := enabledRule("r-dep")
	// Out of retrieval scope; only reachable through expansion.
	dep.Scope = rules.ScopeScenario
	dep.ScopeID = "sc-nested"
	mem.PutRule(dep)
	excluded := enabledRule("r-excluded")
	mem.PutRule(excluded)
	mem.PutRelationship(rules.Relationship{SourceID: "r-matched", TargetID: "r-dep", Kind: rules.KindDependsOn})
	mem.PutRelationship(rules.Relationship{SourceID: "r-matched", TargetID: "r-excluded", Kind: rules.KindExcludes})

	e := newTestEngine(t, mem, &scriptedResponder{}, enforce.Config{}, "fallback")

	result, err := e.ProcessTurn(context.Background(), turnRequest("s1"))
	require.NoError(t, err)

	assert.Contains(t, result.AddedRuleIDs, "r-dep")
	assert.Contains(t, result.ExcludedRuleIDs, "r-excluded")
	ids := make([]string, 0, len(result.Rules))
	for _, a := range result.Rules {
		ids = append(ids, a.RuleID)
	}
	assert.ElementsMatch(t, []string{"r-matched", "r-dep"}, ids)
}

func TestProcessTurnEnforcementRegenerationSucceeds(t *testing.T) {
	mem := store.NewMemory()
	hard := enabledRule("r-short")
	hard.HardConstraint = true
	hard.EnforceExpression = "response_length <= 10"
	mem.PutRule(hard)

	responder := &scriptedResponder{
		responses: []string{"this response is far too long to pass"},
		regens:    []string{"short"},
	}
	e := newTestEngine(t, mem, responder, enforce.Config{MaxRetries: 2}, "fallback")

	result, err := e.ProcessTurn(context.Background(), turnRequest("s1"))
	require.NoError(t, err)

	assert.True(t, result.Enforcement.Passed)
	assert.True(t, result.Enforcement.RegenerationSucceeded)
	assert.Equal(t, 1, result.Enforcement.RegenerationAttempts)
	assert.Equal(t, "short", result.Response)
	assert.False(t, result.Enforcement.FallbackUsed)
}

func TestProcessTurnEnforcementExhaustionUsesFallback(t *testing.T) {
	mem := store.NewMemory()
	hard := enabledRule("r-short")
	hard.HardConstraint = true
	hard.EnforceExpression = "response_length <= 10"
	mem.PutRule(hard)

	responder := &scriptedResponder{
		responses: []string{"this response is far too long to pass"},
		regens:    []string{"still much too long", "and this one is too long as well"},
	}
	e := newTestEngine(t, mem, responder, enforce.Config{MaxRetries: 2}, "I need to check with a colleague.")

	result, err := e.ProcessTurn(context.Background(), turnRequest("s1"))
	require.NoError(t, err)

	assert.False(t, result.Enforcement.Passed)
	assert.Equal(t, 2, result.Enforcement.RegenerationAttempts)
	assert.Equal(t, 2, responder.regenCalls)
	assert.True(t, result.Enforcement.FallbackUsed)
	assert.Equal(t, "I need to check with a colleague.", result.Response)
	assert.NotEmpty(t, result.Enforcement.Violations)
}

func TestProcessTurnFoldsToolResultsAndCustomerData(t *testing.T) {
	mem := store.NewMemory()
	e := newTestEngine(t, mem, &scriptedResponder{}, enforce.Config{}, "fallback")

	req := turnRequest("s1")
	req.CustomerData = map[string]any{"plan": "premium"}
	req.ToolResults = []capabilities.ToolResult{
		{Name: "lookup_account", Status: capabilities.ToolSuccess, Output: "acct-42"},
		{Name: "refund", Status: capabilities.ToolTimeout, Error: "deadline exceeded"},
	}

	_, err := e.ProcessTurn(context.Background(), req)
	require.NoError(t, err)

	sess, err := mem.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "premium", sess.CustomerData["plan"])
	assert.Equal(t, "acct-42", sess.Variables["lookup_account"])
	_, refundRecorded := sess.Variables["refund"]
	assert.False(t, refundRecorded, "failed tools must not set variables")
}

func TestProcessTurnErrorLeavesSessionUnchanged(t *testing.T) {
	mem := store.NewMemory()
	e := newTestEngine(t, mem, &scriptedResponder{}, enforce.Config{}, "fallback")

	req := turnRequest("s1")
	req.CustomerData = map[string]any{"plan": "basic"}
	_, err := e.ProcessTurn(context.Background(), req)
	require.NoError(t, err)

	broken, err := New(Deps{
		Config:    mem,
		Sessions:  mem,
		Embedder:  &fakeEmbedder{err: errors.New("embedder down")},
		Responder: &scriptedResponder{},
	}, Tunables{
		Rules:            retrieval.NewRuleRetriever(mem, nil, openRetrievalConfig(), nil),
		Scenarios:        retrieval.NewScenarioRetriever(mem, nil, openRetrievalConfig(), nil),
		Validator:        enforce.New(enforce.Config{}, nil, nil),
		FallbackResponse: "fallback",
	})
	require.NoError(t, err)

	req = turnRequest("s1")
	req.CustomerData = map[string]any{"ssn": "123-45-6789"}
	req.ToolResults = []capabilities.ToolResult{
		{Name: "lookup_account", Status: capabilities.ToolSuccess, Output: "acct-42"},
	}
	_, err = broken.ProcessTurn(context.Background(), req)
	require.Error(t, err)

	// The failed turn never reached Save; none of its folded inputs may
	// show up in the stored session.
	sess, err := mem.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.TurnNumber)
	assert.NotContains(t, sess.CustomerData, "ssn")
	assert.NotContains(t, sess.Variables, "lookup_account")
	assert.Equal(t, "basic", sess.CustomerData["plan"])
}

func TestSwapReplacesTunables(t *testing.T) {
	mem := store.NewMemory()
	hard := enabledRule("r-short")
	hard.HardConstraint = true
	hard.EnforceExpression = "response_length <= 10"
	mem.PutRule(hard)

	responder := &scriptedResponder{
		responses: []string{"this response is far too long to pass"},
		regens:    []string{"still much too long"},
	}
	e := newTestEngine(t, mem, responder, enforce.Config{MaxRetries: 1}, "old fallback")

	e.Swap(Tunables{
		Rules:            retrieval.NewRuleRetriever(mem, nil, openRetrievalConfig(), nil),
		Scenarios:        retrieval.NewScenarioRetriever(mem, nil, openRetrievalConfig(), nil),
		Validator:        enforce.New(enforce.Config{MaxRetries: 1}, nil, nil),
		FallbackResponse: "new fallback",
	})

	result, err := e.ProcessTurn(context.Background(), turnRequest("s1"))
	require.NoError(t, err)
	assert.Equal(t, "new fallback", result.Response)
}

type capturingMemoryWriter struct {
	added []store.ConversationMemory
}

func (c *capturingMemoryWriter) Add(_ context.Context, mem store.ConversationMemory) (string, error) {
	c.added = append(c.added, mem)
	return mem.ID, nil
}

func TestProcessTurnRecordsMemories(t *testing.T) {
	mem := store.NewMemory()
	writer := &capturingMemoryWriter{}

	e, err := New(Deps{
		Config:    mem,
		Sessions:  mem,
		Embedder:  &fakeEmbedder{vector: queryVec},
		Responder: &scriptedResponder{responses: []string{"happy to help"}},
		Memories:  writer,
	}, Tunables{
		Rules:            retrieval.NewRuleRetriever(mem, nil, openRetrievalConfig(), nil),
		Scenarios:        retrieval.NewScenarioRetriever(mem, nil, openRetrievalConfig(), nil),
		Validator:        enforce.New(enforce.Config{}, nil, nil),
		FallbackResponse: "fallback",
	})
	require.NoError(t, err)

	_, err = e.ProcessTurn(context.Background(), turnRequest("s1"))
	require.NoError(t, err)

	require.Len(t, writer.added, 1)
	assert.Equal(t, "t1", writer.added[0].TenantID)
	assert.Equal(t, "s1", writer.added[0].SessionID)
	assert.Contains(t, writer.added[0].Text, "happy to help")
}

func TestProcessTurnSkipsMemoryOnFallback(t *testing.T) {
	mem := store.NewMemory()
	hard := enabledRule("r-short")
	hard.HardConstraint = true
	hard.EnforceExpression = "response_length <= 10"
	mem.PutRule(hard)
	writer := &capturingMemoryWriter{}

	e, err := New(Deps{
		Config:    mem,
		Sessions:  mem,
		Embedder:  &fakeEmbedder{vector: queryVec},
		Responder: &scriptedResponder{responses: []string{"this response is far too long to pass"}},
		Memories:  writer,
	}, Tunables{
		Rules:            retrieval.NewRuleRetriever(mem, nil, openRetrievalConfig(), nil),
		Scenarios:        retrieval.NewScenarioRetriever(mem, nil, openRetrievalConfig(), nil),
		Validator:        enforce.New(enforce.Config{}, nil, nil),
		FallbackResponse: "fallback",
	})
	require.NoError(t, err)

	result, err := e.ProcessTurn(context.Background(), turnRequest("s1"))
	require.NoError(t, err)
	assert.True(t, result.Enforcement.FallbackUsed)
	assert.Empty(t, writer.added)
}

func TestNewRequiresCollaborators(t *testing.T) {
	mem := store.NewMemory()
	_, err := New(Deps{Config: mem, Sessions: mem}, Tunables{})
	assert.Error(t, err)
}
