package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	"github.com/AzielCF/az-medchat/core/config"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider generates replies with the Gemini API. System turns are sent
// as SystemInstruction; assistant turns use the model role.
type GeminiProvider struct {
	apiKey      string
	model       string
	temperature float32
	maxTokens   int32
}

func NewGeminiProvider(cfg config.LLMConfig) *GeminiProvider {
	model := cfg.Model
	if model == "" || model == DefaultTGIModel {
		model = DefaultGeminiModel
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &GeminiProvider{
		apiKey:      cfg.APIKey,
		model:       model,
		temperature: float32(temperature),
		maxTokens:   int32(maxTokens),
	}
}

// Complete implementa domain.Generator enviando la conversación a Gemini
func (p *GeminiProvider) Complete(ctx context.Context, messages []domain.ChatMessage) (domain.Completion, error) {
	if p.apiKey == "" {
		return domain.Completion{}, fmt.Errorf("gemini provider has no API key")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return domain.Completion{}, err
	}

	system, contents := toGeminiContents(messages)
	temperature := p.temperature
	genConfig := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: p.maxTokens,
	}
	if system != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(system, "")
	}

	result, err := p.generateContentWithRetry(ctx, client, contents, genConfig)
	if err != nil {
		return domain.Completion{}, err
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return domain.Completion{}, fmt.Errorf("no response from gemini")
	}

	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
	}

	resp := domain.Completion{
		Text:  text.String(),
		Model: p.model,
	}
	if result.UsageMetadata != nil {
		resp.InputTokens = int(result.UsageMetadata.PromptTokenCount)
		resp.OutputTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}

	logrus.WithFields(logrus.Fields{
		"model":         p.model,
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
	}).Debug("[GEMINI] Chat completed")

	return resp, nil
}

// toGeminiContents folds every system turn into one instruction and maps the
// rest to user/model contents in order.
func toGeminiContents(messages []domain.ChatMessage) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}
	return strings.Join(system, "\n\n"), contents
}

func (p *GeminiProvider) generateContentWithRetry(ctx context.Context, client *genai.Client, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	for i := 0; i < 3; i++ {
		result, err := client.Models.GenerateContent(ctx, p.model, contents, cfg)
		if err == nil {
			return result, nil
		}
		if !strings.Contains(err.Error(), "503") {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(1<<uint(i)) * time.Second):
		}
	}
	return nil, fmt.Errorf("max retries exceeded")
}
