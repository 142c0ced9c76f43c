// Package langchain adapts OpenAI-compatible endpoints (OpenAI itself or
// local TEI/vLLM servers) to the engine's capability interfaces via
// langchaingo.
package langchain

import (
	"context"
	"errors"
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/alignd/internal/capabilities"
)

// ErrInvalidConfig indicates invalid adapter configuration.
var ErrInvalidConfig = errors.New("invalid langchain adapter configuration")

// Config holds connection settings for one OpenAI-compatible endpoint.
type Config struct {
	// BaseURL of the API, e.g. https://api.openai.com/v1 or a local
	// OpenAI-compatible server.
	BaseURL string
	// Model name served by the endpoint.
	Model string
	// APIKey is required by OpenAI; local servers accept any token.
	APIKey string
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

func newClient(cfg Config) (*openai.LLM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token; local servers ignore it.
		apiKey = "placeholder"
	}
	return openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(apiKey),
	)
}

// Embedder implements capabilities.Embedder over an OpenAI-compatible
// embedding endpoint.
type Embedder struct {
	embedder *lcembeddings.EmbedderImpl
}

// NewEmbedder creates the embedding adapter.
func NewEmbedder(cfg Config) (*Embedder, error) {
	llm, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &Embedder{embedder: embedder}, nil
}

// Embed implements capabilities.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidConfig)
	}
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vec, nil
}

// Reasoner implements capabilities.Reasoner over an OpenAI-compatible chat
// endpoint.
type Reasoner struct {
	llm *openai.LLM
}

// NewReasoner creates the reasoning adapter.
func NewReasoner(cfg Config) (*Reasoner, error) {
	llm, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Reasoner{llm: llm}, nil
}

// Generate implements capabilities.Reasoner.
func (r *Reasoner) Generate(ctx context.Context, messages []capabilities.Message, opts capabilities.GenerateOptions) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case "system":
			role = llms.ChatMessageTypeSystem
		case "assistant":
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	callOpts := []llms.CallOption{llms.WithTemperature(opts.Temperature)}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	resp, err := r.llm.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("reasoner returned no choices")
	}
	return resp.Choices[0].Content, nil
}
