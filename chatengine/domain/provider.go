package domain

import (
	"context"
	"fmt"
	"time"
)

// Completion es la respuesta agnóstica del endpoint de generación
type Completion struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Generator is the text-generation endpoint. Implementations must honour ctx
// cancellation; a response that never arrives surfaces as ctx's error.
type Generator interface {
	Complete(ctx context.Context, messages []ChatMessage) (Completion, error)
}

// Retriever returns text snippets relevant to a query, possibly none.
type Retriever interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// NoopRetriever never returns snippets. Used when RAG is disabled.
type NoopRetriever struct{}

func (NoopRetriever) Search(context.Context, string) ([]string, error) {
	return nil, nil
}

// GenerationError is returned when a reply could not be produced.
// No assistant message is recorded when it occurs.
type GenerationError struct {
	ConversationID string
	Elapsed        time.Duration
	Err            error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for conversation %s after %s: %v", e.ConversationID, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func (e *GenerationError) ErrCode() string {
	return "GENERATION_ERROR"
}
