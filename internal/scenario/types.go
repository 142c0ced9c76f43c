// Package scenario models multi-step scripted scenarios and the
// navigation state machine that moves sessions through them.
package scenario

// Transition is a directed edge between steps. Condition is prompt text
// interpreted by the reasoning layer; the engine only uses Priority to
// order candidate transitions.
type Transition struct {
	ToStepID  string `json:"to_step_id"`
	Condition string `json:"condition_text,omitempty"`
	Priority  int    `json:"priority"`
}

// Step is one node of a scenario graph.
type Step struct {
	ID string `json:"id"`

	// Terminal steps end the scenario.
	Terminal bool `json:"is_terminal"`

	// CanSkip allows the navigator to advance past this step when every
	// required field is already known.
	CanSkip bool `json:"can_skip"`

	// RequiredFields must be present in customer data or session
	// variables before the step is considered satisfied.
	RequiredFields []string `json:"required_fields,omitempty"`

	Transitions []Transition `json:"transitions,omitempty"`
}

// Scenario is a finite, small step graph with a single entry point.
type Scenario struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	AgentID     string    `json:"agent_id"`
	Name        string    `json:"name"`
	Version     int       `json:"version"`
	Enabled     bool      `json:"enabled"`
	EntryStepID string    `json:"entry_step_id"`
	Steps       []Step    `json:"steps"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// StepByID returns the step with the given ID, or nil.
func (s *Scenario) StepByID(id string) *Step {
	for i := range s.Steps {
		if s.Steps[i].ID == id {
			return &s.Steps[i]
		}
	}
	return nil
}

// Candidate pairs a scenario with its retrieval score.
type Candidate struct {
	Scenario Scenario `json:"scenario"`
	Score    float64  `json:"score"`
}

// Signal is the turn-level scenario intent extracted upstream.
type Signal string

const (
	SignalNone Signal = "NONE"
	SignalExit Signal = "EXIT"
)

// Action is the navigation outcome for one turn.
type Action string

const (
	ActionNone       Action = "NONE"
	ActionStart      Action = "START"
	ActionContinue   Action = "CONTINUE"
	ActionTransition Action = "TRANSITION"
	ActionExit       Action = "EXIT"
	ActionRelocalize Action = "RELOCALIZE"
)

// Decision describes what the navigator chose to do. Target step
// resolution for RELOCALIZE recovery is left to the retriever layer.
type Decision struct {
	Action         Action   `json:"action"`
	ScenarioID     string   `json:"scenario_id,omitempty"`
	TargetStepID   string   `json:"target_step_id,omitempty"`
	SkippedSteps   []string `json:"skipped_steps,omitempty"`
	WasRelocalized bool     `json:"was_relocalized,omitempty"`
	OriginalStepID string   `json:"original_step_id,omitempty"`
}
