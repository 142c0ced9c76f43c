package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/alignd/internal/capabilities"
	"github.com/fyrsmithlabs/alignd/internal/enforce"
)

// ReasonerResponder is the reference Responder: it assembles a plain
// instruction prompt from the decision context and delegates generation
// to the reasoning capability. Deployments with richer prompt pipelines
// supply their own Responder.
type ReasonerResponder struct {
	reasoner capabilities.Reasoner
	opts     capabilities.GenerateOptions
}

// NewReasonerResponder creates a ReasonerResponder. Zero opts select the
// provider's defaults.
func NewReasonerResponder(reasoner capabilities.Reasoner, opts capabilities.GenerateOptions) *ReasonerResponder {
	return &ReasonerResponder{reasoner: reasoner, opts: opts}
}

// Respond generates a candidate response for the turn.
func (r *ReasonerResponder) Respond(ctx context.Context, pc PromptContext) (string, error) {
	return r.reasoner.Generate(ctx, []capabilities.Message{
		{Role: "system", Content: systemPrompt(pc)},
		{Role: "user", Content: pc.Message},
	}, r.opts)
}

// Regenerate produces a replacement response after enforcement flagged
// the prior one.
func (r *ReasonerResponder) Regenerate(ctx context.Context, prior string, violations []enforce.Violation) (string, error) {
	var b strings.Builder
	b.WriteString("Your previous response violated hard constraints. Rewrite it so every constraint is satisfied while keeping the helpful content.\n\nPrevious response:\n")
	b.WriteString(prior)
	b.WriteString("\n\nViolations:\n")
	for _, v := range violations {
		fmt.Fprintf(&b, "- [%s] %s\n", v.RuleID, v.Reason)
	}
	return r.reasoner.Generate(ctx, []capabilities.Message{
		{Role: "system", Content: "You are a careful assistant. Follow the rewrite instructions exactly."},
		{Role: "user", Content: b.String()},
	}, r.opts)
}

// systemPrompt renders the decision context into instructions.
func systemPrompt(pc PromptContext) string {
	var b strings.Builder
	b.WriteString("You are a customer-facing assistant. Follow every rule below.\n")

	if len(pc.Rules) > 0 {
		b.WriteString("\nRules:\n")
		for _, m := range pc.Rules {
			fmt.Fprintf(&b, "- When %s: %s\n", m.Rule.Condition, m.Rule.Action)
		}
	}
	if pc.ActiveScenarioID != "" {
		fmt.Fprintf(&b, "\nActive scenario: %s (step %s). Keep the conversation on this step's goal.\n",
			pc.ActiveScenarioID, pc.ActiveStepID)
	}
	if len(pc.Memories) > 0 {
		b.WriteString("\nRelevant context from earlier in the relationship:\n")
		for _, m := range pc.Memories {
			fmt.Fprintf(&b, "- %s\n", m.Memory.Text)
		}
	}
	if len(pc.ToolResults) > 0 {
		b.WriteString("\nTool results:\n")
		for _, tr := range pc.ToolResults {
			if tr.Success() {
				fmt.Fprintf(&b, "- %s: %s\n", tr.Name, tr.Output)
			} else {
				fmt.Fprintf(&b, "- %s failed (%s): %s\n", tr.Name, tr.Status, tr.Error)
			}
		}
	}
	if pc.Intent != "" {
		fmt.Fprintf(&b, "\nDetected intent: %s\n", pc.Intent)
	}
	return b.String()
}
