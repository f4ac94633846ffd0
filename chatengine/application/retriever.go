package application

import (
	"context"
	"fmt"
	"sort"
	"strings"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

const (
	DefaultRAGThreshold = 0.7
	DefaultRAGLimit     = 2
	snippetMaxRunes     = 150
)

type RetrieverConfig struct {
	Threshold float64
	Limit     int
}

// EmbeddingRetriever does brute-force cosine search over stored report
// embeddings. Only vectors with the query's dimension are compared.
type EmbeddingRetriever struct {
	embedder  domain.Embedder
	snippets  domain.SnippetStore
	threshold float64
	limit     int
	log       logrus.FieldLogger
}

func NewEmbeddingRetriever(embedder domain.Embedder, snippets domain.SnippetStore, cfg RetrieverConfig, log logrus.FieldLogger) *EmbeddingRetriever {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultRAGThreshold
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultRAGLimit
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EmbeddingRetriever{
		embedder:  embedder,
		snippets:  snippets,
		threshold: cfg.Threshold,
		limit:     cfg.Limit,
		log:       log,
	}
}

type scoredSnippet struct {
	content string
	score   float64
}

func (r *EmbeddingRetriever) Search(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vector) == 0 {
		return nil, nil
	}

	candidates, err := r.snippets.ListSnippets(ctx, len(vector))
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}

	var matches []scoredSnippet
	for _, c := range candidates {
		score := cosineSimilarity(vector, c.Vector)
		if score < r.threshold {
			continue
		}
		matches = append(matches, scoredSnippet{content: c.Content, score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > r.limit {
		matches = matches[:r.limit]
	}

	result := make([]string, 0, len(matches))
	for _, m := range matches {
		result = append(result, truncateSnippet(m.content))
	}

	r.log.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"matches":    len(result),
	}).Debug("[RAG] Search completed")
	return result, nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return floats.Dot(a, b) / (normA * normB)
}

func truncateSnippet(s string) string {
	runes := []rune(s)
	if len(runes) > snippetMaxRunes {
		runes = runes[:snippetMaxRunes]
	}
	return string(runes) + "..."
}
