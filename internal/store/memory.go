package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/alignd/internal/rules"
	"github.com/fyrsmithlabs/alignd/internal/scenario"
	"github.com/fyrsmithlabs/alignd/internal/session"
)

// Memory is an in-memory ConfigStore and SessionStore. Safe for
// concurrent use; the administrative layer writes, the engine reads.
type Memory struct {
	mu            sync.RWMutex
	rules         map[string]rules.Rule
	scenarios     map[string]scenario.Scenario
	relationships []rules.Relationship
	sessions      map[string]*session.Session
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rules:     make(map[string]rules.Rule),
		scenarios: make(map[string]scenario.Scenario),
		sessions:  make(map[string]*session.Session),
	}
}

// PutRule inserts or replaces a rule.
func (m *Memory) PutRule(r rules.Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = r
	for _, rel := range r.Relationships {
		m.relationships = append(m.relationships, rel)
	}
}

// PutScenario inserts or replaces a scenario.
func (m *Memory) PutScenario(sc scenario.Scenario) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenarios[sc.ID] = sc
}

// PutRelationship appends a rule relationship.
func (m *Memory) PutRelationship(rel rules.Relationship) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relationships = append(m.relationships, rel)
}

// GetRules implements ConfigStore.
func (m *Memory) GetRules(ctx context.Context, q RuleQuery) ([]rules.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []rules.Rule
	for _, r := range m.rules {
		if q.TenantID != "" && r.TenantID != q.TenantID {
			continue
		}
		if q.AgentID != "" && r.AgentID != q.AgentID {
			continue
		}
		if q.Scope != "" && r.Scope != q.Scope {
			continue
		}
		if q.ScopeID != "" && r.ScopeID != q.ScopeID {
			continue
		}
		if q.EnabledOnly && !r.Enabled {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// GetScenarios implements ConfigStore.
func (m *Memory) GetScenarios(ctx context.Context, tenantID, agentID string, enabledOnly bool) ([]scenario.Scenario, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []scenario.Scenario
	for _, sc := range m.scenarios {
		if tenantID != "" && sc.TenantID != tenantID {
			continue
		}
		if agentID != "" && sc.AgentID != agentID {
			continue
		}
		if enabledOnly && !sc.Enabled {
			continue
		}
		out = append(out, sc)
	}
	return out, nil
}

// GetRuleRelationships implements ConfigStore.
func (m *Memory) GetRuleRelationships(ctx context.Context, tenantID, agentID string) ([]rules.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]rules.Relationship, len(m.relationships))
	copy(out, m.relationships)
	return out, nil
}

// Get implements SessionStore.
func (m *Memory) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return sess.Clone(), nil
}

// Save implements SessionStore. The caller's session stays independent of
// the stored copy: only a later Save makes its mutations visible.
func (m *Memory) Save(ctx context.Context, sess *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sess.UpdatedAt = time.Now().UTC()
	m.sessions[sess.ID] = sess.Clone()
	return nil
}
