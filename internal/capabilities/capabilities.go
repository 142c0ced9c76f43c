// Package capabilities defines the narrow interfaces to external
// providers: embedding, reranking, and reasoning. Engine code depends
// only on these interfaces, never on a concrete vendor type; adapters
// live in subpackages and fakes live next to the tests that use them.
package capabilities

import "context"

// Embedder generates a vector embedding for a text. Dimensionality is
// fixed per provider instance.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RankedDocument is one reranker result, pointing back at the input
// document by its original index.
type RankedDocument struct {
	Index int     `json:"original_index"`
	Score float64 `json:"score"`
}

// Reranker reorders documents by relevance to a query. Results are sorted
// descending by score and limited to topK. An empty result means the
// reranker abstained; callers keep their original ordering.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RankedDocument, error)
}

// Message is one chat turn handed to the reasoning capability.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateOptions bounds a single reasoning call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// Reasoner is the external reasoning capability (an LLM). Timeout and
// cancellation of the underlying call are the implementation's
// responsibility; the engine only issues sequential, bounded calls.
type Reasoner interface {
	Generate(ctx context.Context, messages []Message, opts GenerateOptions) (string, error)
}

// ToolStatus is the tri-state outcome reported by the tool-execution
// collaborator. The engine consumes it as-is and never blocks beyond
// what the collaborator returns.
type ToolStatus string

const (
	ToolSuccess ToolStatus = "success"
	ToolTimeout ToolStatus = "timeout"
	ToolError   ToolStatus = "error"
)

// ToolResult is one tool invocation outcome.
type ToolResult struct {
	Name   string     `json:"name"`
	Status ToolStatus `json:"status"`
	Output string     `json:"output,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Success reports whether the tool completed normally.
func (r ToolResult) Success() bool { return r.Status == ToolSuccess }

// ToolRunner executes a named tool with arguments, applying its own
// per-tool timeout.
type ToolRunner interface {
	Run(ctx context.Context, name string, args map[string]any) ToolResult
}
