package providers

import (
	"fmt"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	"github.com/AzielCF/az-medchat/core/config"
)

// NewGenerator selects the generation backend named by cfg.Provider.
func NewGenerator(cfg config.LLMConfig) (domain.Generator, error) {
	switch cfg.Provider {
	case "tgi", "openai", "":
		return NewOpenAIProvider(cfg), nil
	case "gemini":
		return NewGeminiProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
