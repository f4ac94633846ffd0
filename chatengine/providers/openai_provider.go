package providers

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	"github.com/AzielCF/az-medchat/core/config"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTGIModel    = "tgi"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint,
// including Hugging Face TGI (/v1/chat/completions).
type OpenAIProvider struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg config.LLMConfig) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(normalizeBaseURL(cfg.BaseURL)))
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		// TGI ignora la autenticación, pero el SDK envía el header igual
		apiKey = "-"
	}
	opts = append(opts, option.WithAPIKey(apiKey))

	model := cfg.Model
	if model == "" {
		model = DefaultTGIModel
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &OpenAIProvider{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Complete implements domain.Generator.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []domain.ChatMessage) (domain.Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.model),
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(p.temperature),
		MaxTokens:   openai.Int(int64(p.maxTokens)),
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return domain.Completion{}, err
	}
	if len(completion.Choices) == 0 {
		return domain.Completion{}, fmt.Errorf("no response from %s", p.model)
	}

	model := completion.Model
	if model == "" {
		model = p.model
	}
	resp := domain.Completion{
		Text:         completion.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}

	logrus.WithFields(logrus.Fields{
		"model":         model,
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
	}).Debug("[OPENAI] Chat completed")

	return resp, nil
}

func toOpenAIMessages(messages []domain.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// normalizeBaseURL appends the /v1/ prefix the SDK expects when the
// configured URL points at the server root.
func normalizeBaseURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	if !strings.HasSuffix(u, "/v1") {
		u += "/v1"
	}
	return u + "/"
}
