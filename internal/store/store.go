// Package store defines the persistence collaborator interfaces the
// engine depends on, plus reference implementations: a mutex-guarded
// in-memory store for tests and single-process deployments, and a
// chromem-go backed bank for conversation memories.
package store

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/alignd/internal/rules"
	"github.com/fyrsmithlabs/alignd/internal/scenario"
	"github.com/fyrsmithlabs/alignd/internal/session"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid store configuration")
)

// RuleQuery filters a rule fetch. Zero Scope means all scopes; EnabledOnly
// drops disabled rules server-side.
type RuleQuery struct {
	TenantID    string
	AgentID     string
	Scope       rules.Scope
	ScopeID     string
	EnabledOnly bool
}

// ConfigStore serves the administrative entities the engine reads each
// turn. Entities are owned and mutated by the administrative layer; the
// engine treats them as immutable within a turn.
type ConfigStore interface {
	GetRules(ctx context.Context, q RuleQuery) ([]rules.Rule, error)
	GetScenarios(ctx context.Context, tenantID, agentID string, enabledOnly bool) ([]scenario.Scenario, error)
	GetRuleRelationships(ctx context.Context, tenantID, agentID string) ([]rules.Relationship, error)
}

// SessionStore loads and saves per-conversation state. Get returns
// ErrNotFound for unknown sessions.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*session.Session, error)
	Save(ctx context.Context, sess *session.Session) error
}
