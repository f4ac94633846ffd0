package providers

import (
	"context"
	"fmt"

	"github.com/AzielCF/az-medchat/core/config"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIEmbedder calls an OpenAI-compatible /v1/embeddings endpoint
// (Hugging Face TEI exposes the same route).
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

func NewOpenAIEmbedder(cfg config.RAGConfig) *OpenAIEmbedder {
	apiKey := cfg.EmbeddingAPIKey
	if apiKey == "" {
		apiKey = "-"
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(
			option.WithBaseURL(normalizeBaseURL(cfg.EmbeddingURL)),
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(1),
		),
		model: cfg.EmbeddingModel,
	}
}

// Embed implements domain.Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding endpoint returned no vectors")
	}
	return resp.Data[0].Embedding, nil
}
