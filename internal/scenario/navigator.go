package scenario

import (
	"sort"
	"time"

	"github.com/fyrsmithlabs/alignd/internal/session"
)

// DefaultMaxLoopCount is the loop-detection threshold when none is
// configured.
const DefaultMaxLoopCount = 3

// Navigator is the scenario navigation state machine. It is stateless;
// all per-session state lives on the session.
type Navigator struct {
	maxLoopCount int
}

// NewNavigator creates a Navigator. maxLoopCount <= 0 selects the default.
func NewNavigator(maxLoopCount int) *Navigator {
	if maxLoopCount <= 0 {
		maxLoopCount = DefaultMaxLoopCount
	}
	return &Navigator{maxLoopCount: maxLoopCount}
}

// Next decides the navigation action for one turn. Evaluation order, first
// match wins: loop detection, explicit exit, active continuation with
// skip-ahead, start from the top-ranked candidate, no-op.
//
// active is the definition of the session's current scenario (nil when the
// session has none); candidates must be sorted descending by score.
func (n *Navigator) Next(sess *session.Session, active *Scenario, signal Signal, candidates []Candidate) Decision {
	// 1. Loop detection outranks everything, including an exit request:
	// a stuck session needs repositioning before it can do anything else.
	if sess.ActiveStepID != "" && sess.VisitedSteps[sess.ActiveStepID] >= n.maxLoopCount {
		return Decision{
			Action:         ActionRelocalize,
			ScenarioID:     sess.ActiveScenarioID,
			WasRelocalized: true,
			OriginalStepID: sess.ActiveStepID,
		}
	}

	// 2. Explicit exit.
	if sess.ActiveScenarioID != "" && signal == SignalExit {
		return Decision{
			Action:     ActionExit,
			ScenarioID: sess.ActiveScenarioID,
		}
	}

	// 3. Active continuation with skip-ahead.
	if sess.ActiveScenarioID != "" && active != nil {
		target, skipped := n.furthestReachable(sess, active)
		action := ActionContinue
		if target != sess.ActiveStepID {
			action = ActionTransition
		}
		return Decision{
			Action:       action,
			ScenarioID:   sess.ActiveScenarioID,
			TargetStepID: target,
			SkippedSteps: skipped,
		}
	}

	// 4. Start the top-ranked candidate.
	if sess.ActiveScenarioID == "" && len(candidates) > 0 {
		top := candidates[0]
		return Decision{
			Action:       ActionStart,
			ScenarioID:   top.Scenario.ID,
			TargetStepID: top.Scenario.EntryStepID,
		}
	}

	return Decision{Action: ActionNone}
}

// furthestReachable walks forward from the current step while each step is
// skippable and all of its required fields are already known, stopping at
// the first unskippable or unsatisfied step, or at a terminal step. The
// walk carries its own visited set so a cyclic transition graph cannot
// hang it.
func (n *Navigator) furthestReachable(sess *session.Session, sc *Scenario) (string, []string) {
	current := sess.ActiveStepID
	if current == "" {
		current = sc.EntryStepID
	}
	step := sc.StepByID(current)
	if step == nil {
		return current, nil
	}

	var skipped []string
	visited := map[string]bool{current: true}
	for {
		if step.Terminal || !step.CanSkip {
			break
		}
		satisfied := true
		for _, field := range step.RequiredFields {
			if !sess.KnownField(field) {
				satisfied = false
				break
			}
		}
		if !satisfied {
			break
		}
		next := nextStep(sc, step)
		if next == nil || visited[next.ID] {
			break
		}
		skipped = append(skipped, step.ID)
		visited[next.ID] = true
		step = next
	}
	return step.ID, skipped
}

// nextStep picks the highest-priority outgoing transition's target.
// Transition conditions are interpreted by the reasoning layer; the
// skip-ahead walk only follows graph shape.
func nextStep(sc *Scenario, from *Step) *Step {
	if len(from.Transitions) == 0 {
		return nil
	}
	ts := make([]Transition, len(from.Transitions))
	copy(ts, from.Transitions)
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].Priority > ts[j].Priority })
	return sc.StepByID(ts[0].ToStepID)
}

// Apply folds a decision into the session: scenario/step pointers, visit
// counters, relocalization count, and the bounded step history.
func Apply(dec Decision, sess *session.Session, active *Scenario) {
	switch dec.Action {
	case ActionStart:
		sess.ActiveScenarioID = dec.ScenarioID
		sess.ActiveStepID = dec.TargetStepID
		if active != nil {
			sess.ScenarioVersion = active.Version
		}
		sess.VisitedSteps = map[string]int{}
		sess.MarkStepVisited(dec.TargetStepID)
		sess.AppendStepHistory(session.StepVisit{
			ScenarioID: dec.ScenarioID,
			StepID:     dec.TargetStepID,
			Turn:       sess.TurnNumber,
			VisitedAt:  time.Now().UTC(),
		})
	case ActionContinue, ActionTransition:
		sess.ActiveStepID = dec.TargetStepID
		sess.MarkStepVisited(dec.TargetStepID)
		sess.AppendStepHistory(session.StepVisit{
			ScenarioID: dec.ScenarioID,
			StepID:     dec.TargetStepID,
			Turn:       sess.TurnNumber,
			VisitedAt:  time.Now().UTC(),
		})
	case ActionExit:
		sess.ClearScenario()
	case ActionRelocalize:
		sess.RelocalizationCount++
		// The recovery target is resolved by the retriever layer; the
		// stuck step's counter is reset so the next turn can move.
		delete(sess.VisitedSteps, dec.OriginalStepID)
	}
}
