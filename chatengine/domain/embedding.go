package domain

import (
	"context"

	"github.com/google/uuid"
)

// EmbeddedSnippet is a searchable piece of text with its embedding vector.
type EmbeddedSnippet struct {
	ID       uuid.UUID `json:"id"`
	SourceID string    `json:"source_id"` // e.g. the report the text came from
	Content  string    `json:"content"`
	Vector   []float64 `json:"vector"`
}

// SnippetStore persists embedded snippets for retrieval.
type SnippetStore interface {
	SaveSnippet(ctx context.Context, s EmbeddedSnippet) error
	// ListSnippets returns candidate snippets whose vector has the given dimension.
	ListSnippets(ctx context.Context, dimension int) ([]EmbeddedSnippet, error)
}
