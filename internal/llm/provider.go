package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rahul/tabletalk/pkg/config"
)

const openRouterURL = "https://openrouter.ai/api/v1"

// NewModel builds the langchaingo model for a configured provider.
func NewModel(name string, p config.ProviderConfig) (llms.Model, error) {
	switch name {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		baseURL := p.BaseURL
		if baseURL == "" && name == "openrouter" {
			baseURL = openRouterURL
		}
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		return openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(p.Model)}
		if p.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(p.BaseURL))
		}
		return ollama.New(opts...)
	case "anthropic":
		opts := []anthropic.Option{
			anthropic.WithToken(p.APIKey),
			anthropic.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(p.BaseURL))
		}
		return anthropic.New(opts...)
	case "":
		return nil, fmt.Errorf("no enabled provider found in config")
	default:
		return nil, fmt.Errorf("provider %s not yet implemented", name)
	}
}
