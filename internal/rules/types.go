// Package rules defines behavioral rules and the relationship expansion
// over their dependency/exclusion graph.
package rules

// Scope is the hierarchy level at which a rule applies.
type Scope string

const (
	ScopeGlobal   Scope = "GLOBAL"
	ScopeScenario Scope = "SCENARIO"
	ScopeStep     Scope = "STEP"
)

// RelationshipKind classifies a directed edge between two rules.
type RelationshipKind string

const (
	// KindDependsOn and KindImplies are followed during expansion.
	KindDependsOn RelationshipKind = "DEPENDS_ON"
	KindImplies   RelationshipKind = "IMPLIES"

	// KindExcludes removes its target from the final set; exclusion
	// always wins over reachability.
	KindExcludes RelationshipKind = "EXCLUDES"

	// KindSpecializes and KindRelated are informational only and never
	// followed.
	KindSpecializes RelationshipKind = "SPECIALIZES"
	KindRelated     RelationshipKind = "RELATED"
)

// Relationship is a directed edge from one rule to another.
type Relationship struct {
	SourceID string           `json:"source_rule_id"`
	TargetID string           `json:"target_rule_id"`
	Kind     RelationshipKind `json:"kind"`
}

// Rule is a behavioral rule owned by the administrative layer. The engine
// treats rules as immutable for the duration of one turn.
type Rule struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id"`

	// Scope and ScopeID bind the rule to a level of the hierarchy.
	// ScopeID is required unless Scope is GLOBAL.
	Scope   Scope  `json:"scope"`
	ScopeID string `json:"scope_id,omitempty"`

	Condition string `json:"condition"`
	Action    string `json:"action"`

	// Priority in [-100, 100]; higher runs earlier in prompts.
	Priority int  `json:"priority"`
	Enabled  bool `json:"enabled"`

	// MaxFiresPerSession of 0 means unlimited.
	MaxFiresPerSession int `json:"max_fires_per_session"`
	// CooldownTurns of 0 means no cooldown.
	CooldownTurns int `json:"cooldown_turns"`

	// HardConstraint rules must hold in every final response and are
	// checked by the enforcement validator.
	HardConstraint bool `json:"is_hard_constraint"`

	// EnforceExpression, when set, is a deterministic boolean expression
	// checked by enforcement lane 1 instead of the judged lane.
	EnforceExpression string `json:"enforce_expression,omitempty"`

	Embedding []float32 `json:"embedding,omitempty"`

	Relationships []Relationship `json:"relationships,omitempty"`
}

// MatchedRule is a rule admitted into the turn, with how it got there.
type MatchedRule struct {
	Rule      Rule    `json:"rule"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning,omitempty"`
}
