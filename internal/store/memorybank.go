package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/fyrsmithlabs/alignd/internal/capabilities"
)

// ConversationMemory is one recallable snippet extracted from past turns.
type ConversationMemory struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	AgentID   string    `json:"agent_id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredMemory pairs a memory with its retrieval similarity.
type ScoredMemory struct {
	Memory ConversationMemory `json:"memory"`
	Score  float64            `json:"score"`
}

// MemoryBank persists conversation memories in an embedded chromem-go
// collection and recalls them by embedding similarity.
type MemoryBank struct {
	collection *chromem.Collection
	embedder   capabilities.Embedder
}

// NewMemoryBank creates a bank over an in-memory chromem database.
func NewMemoryBank(embedder capabilities.Embedder) (*MemoryBank, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	db := chromem.NewDB()
	collection, err := db.GetOrCreateCollection("alignd_memories", nil, embeddingFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("creating memory collection: %w", err)
	}
	return &MemoryBank{collection: collection, embedder: embedder}, nil
}

// NewPersistentMemoryBank creates a bank persisted under path.
func NewPersistentMemoryBank(path string, compress bool, embedder capabilities.Embedder) (*MemoryBank, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem db: %w", err)
	}
	collection, err := db.GetOrCreateCollection("alignd_memories", nil, embeddingFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("creating memory collection: %w", err)
	}
	return &MemoryBank{collection: collection, embedder: embedder}, nil
}

// embeddingFunc bridges the engine's Embedder into chromem.
func embeddingFunc(embedder capabilities.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
}

// Add stores a memory. A zero ID gets a generated UUID.
func (b *MemoryBank) Add(ctx context.Context, mem ConversationMemory) (string, error) {
	if mem.Text == "" {
		return "", fmt.Errorf("%w: memory text is required", ErrInvalidConfig)
	}
	if mem.ID == "" {
		mem.ID = uuid.NewString()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}
	doc := chromem.Document{
		ID:      mem.ID,
		Content: mem.Text,
		Metadata: map[string]string{
			"tenant_id":  mem.TenantID,
			"agent_id":   mem.AgentID,
			"session_id": mem.SessionID,
			"created_at": mem.CreatedAt.Format(time.RFC3339),
		},
	}
	if err := b.collection.AddDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("adding memory: %w", err)
	}
	return mem.ID, nil
}

// Search recalls up to topN memories for a tenant by similarity to the
// query embedding. Returns results sorted descending by similarity.
func (b *MemoryBank) Search(ctx context.Context, tenantID string, queryEmbedding []float32, topN int) ([]ScoredMemory, error) {
	count := b.collection.Count()
	if count == 0 || topN <= 0 {
		return nil, nil
	}
	if topN > count {
		topN = count
	}
	var where map[string]string
	if tenantID != "" {
		where = map[string]string{"tenant_id": tenantID}
	}
	results, err := b.collection.QueryEmbedding(ctx, queryEmbedding, topN, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}

	out := make([]ScoredMemory, 0, len(results))
	for _, res := range results {
		created, _ := time.Parse(time.RFC3339, res.Metadata["created_at"])
		score := float64(res.Similarity)
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		out = append(out, ScoredMemory{
			Memory: ConversationMemory{
				ID:        res.ID,
				TenantID:  res.Metadata["tenant_id"],
				AgentID:   res.Metadata["agent_id"],
				SessionID: res.Metadata["session_id"],
				Text:      res.Content,
				CreatedAt: created,
			},
			Score: score,
		})
	}
	return out, nil
}
