package core

import (
	"context"
	"time"
)

// MemoryRecord is a long-term memory entry.
type MemoryRecord struct {
	ID       string            `json:"id"`
	Owner    string            `json:"owner"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
	Created  time.Time         `json:"created"`
}

// LongTermMemory is a cross-session retrieval store. Retrieve is scoped
// strictly to owner and never mutates the store.
type LongTermMemory interface {
	Write(ctx context.Context, owner, content string, metadata map[string]string) (string, error)
	Retrieve(ctx context.Context, owner, query string, k int) ([]MemoryRecord, error)
}

// Passage is a ranked knowledge base hit.
type Passage struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Source   string            `json:"source,omitempty"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// KnowledgeBase answers retrieval queries against a configured collection.
type KnowledgeBase interface {
	Query(ctx context.Context, text string, k int) ([]Passage, error)
}

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
