// Package session holds per-conversation state: scenario navigation
// position, rule fire bookkeeping, and extracted customer data. State is
// loaded once at turn start, mutated in memory, and saved once at turn
// end; the engine assumes at most one concurrent turn per session.
package session

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// MaxStepHistory bounds the retained navigation history; the oldest
// entries are pruned on overflow.
const MaxStepHistory = 100

// StepVisit records one navigation event.
type StepVisit struct {
	ScenarioID string    `json:"scenario_id"`
	StepID     string    `json:"step_id"`
	Turn       int       `json:"turn"`
	VisitedAt  time.Time `json:"visited_at"`
}

// Session is the mutable per-conversation state.
type Session struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id"`

	// TurnNumber is incremented by the engine at the start of each turn.
	TurnNumber int `json:"turn_number"`

	ActiveScenarioID string `json:"active_scenario_id,omitempty"`
	ActiveStepID     string `json:"active_step_id,omitempty"`
	ScenarioVersion  int    `json:"scenario_version,omitempty"`

	// VisitedSteps counts visits per step within the active scenario,
	// feeding loop detection.
	VisitedSteps map[string]int `json:"visited_steps"`

	// StepHistory is bounded to MaxStepHistory entries.
	StepHistory []StepVisit `json:"step_history"`

	RelocalizationCount int `json:"relocalization_count"`

	// RuleFires counts fires per rule ID across the session.
	RuleFires map[string]int `json:"rule_fires"`
	// RuleLastFiredTurn records the last turn each rule fired on.
	RuleLastFiredTurn map[string]int `json:"rule_last_fired_turn"`

	// CustomerData holds fields extracted from the conversation;
	// Variables holds values set by tools or the administrative layer.
	// Both feed required-field checks during step skipping.
	CustomerData map[string]any `json:"customer_data"`
	Variables    map[string]any `json:"variables"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an empty session for a tenant/agent pair. A zero id gets a
// generated UUID.
func New(id, tenantID, agentID string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Session{
		ID:                id,
		TenantID:          tenantID,
		AgentID:           agentID,
		VisitedSteps:      make(map[string]int),
		RuleFires:         make(map[string]int),
		RuleLastFiredTurn: make(map[string]int),
		CustomerData:      make(map[string]any),
		Variables:         make(map[string]any),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Clone returns an independent copy: mutating the clone's maps or step
// history never touches the receiver. Map values of any type are copied
// by value.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.VisitedSteps = maps.Clone(s.VisitedSteps)
	out.RuleFires = maps.Clone(s.RuleFires)
	out.RuleLastFiredTurn = maps.Clone(s.RuleLastFiredTurn)
	out.CustomerData = maps.Clone(s.CustomerData)
	out.Variables = maps.Clone(s.Variables)
	out.StepHistory = slices.Clone(s.StepHistory)
	return &out
}

// AppendStepHistory records a visit and prunes the oldest entries down to
// MaxStepHistory.
func (s *Session) AppendStepHistory(visit StepVisit) {
	s.StepHistory = append(s.StepHistory, visit)
	if overflow := len(s.StepHistory) - MaxStepHistory; overflow > 0 {
		s.StepHistory = append(s.StepHistory[:0], s.StepHistory[overflow:]...)
	}
}

// MarkStepVisited bumps the visit counter for a step and returns the new
// count.
func (s *Session) MarkStepVisited(stepID string) int {
	if s.VisitedSteps == nil {
		s.VisitedSteps = make(map[string]int)
	}
	s.VisitedSteps[stepID]++
	return s.VisitedSteps[stepID]
}

// RecordRuleFire bumps the fire counter for a rule on the given turn.
func (s *Session) RecordRuleFire(ruleID string, turn int) {
	if s.RuleFires == nil {
		s.RuleFires = make(map[string]int)
	}
	if s.RuleLastFiredTurn == nil {
		s.RuleLastFiredTurn = make(map[string]int)
	}
	s.RuleFires[ruleID]++
	s.RuleLastFiredTurn[ruleID] = turn
}

// ClearScenario resets navigation state after an EXIT.
func (s *Session) ClearScenario() {
	s.ActiveScenarioID = ""
	s.ActiveStepID = ""
	s.ScenarioVersion = 0
	s.VisitedSteps = make(map[string]int)
	s.RelocalizationCount = 0
}

// KnownField reports whether a required field is present in customer data
// or session variables.
func (s *Session) KnownField(name string) bool {
	if v, ok := s.CustomerData[name]; ok && v != nil {
		return true
	}
	if v, ok := s.Variables[name]; ok && v != nil {
		return true
	}
	return false
}
