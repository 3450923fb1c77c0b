package providers

import (
	"context"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mrmushfiq/llm0-freetier-router/internal/shared/config"
)

// OpenAICompatProvider talks to any OpenAI-compatible chat completions API:
// the HuggingFace router, Groq, Together AI and local servers such as Ollama
type OpenAICompatProvider struct {
	*adapter
	clients []*openai.Client // one per account, same order as the pool
}

// NewOpenAICompatProvider creates a provider with one client per API key
func NewOpenAICompatProvider(cfg config.ProviderConfig, logger *zap.Logger) *OpenAICompatProvider {
	p := &OpenAICompatProvider{
		adapter: newAdapter(cfg.Name, cfg.APIKeys, cfg.DailyLimit, cfg.Models, cfg.MaxRetries, cfg.RetryDelay, logger),
		clients: make([]*openai.Client, len(cfg.APIKeys)),
	}

	for i, key := range cfg.APIKeys {
		clientCfg := openai.DefaultConfig(key)
		clientCfg.BaseURL = cfg.BaseURL
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		p.clients[i] = openai.NewClientWithConfig(clientCfg)
	}
	p.call = p.complete

	return p
}

// complete makes a single chat completion request with the leased account
func (p *OpenAICompatProvider) complete(ctx context.Context, lease Lease, model string, req GenerateRequest) (string, error) {
	resp, err := p.clients[lease.Index].CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    req.Messages(),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", NewProviderError(p.name, KindMalformed, 0, "no choices in response", nil)
	}

	return resp.Choices[0].Message.Content, nil
}
