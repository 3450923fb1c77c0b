package providers

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// GenerateRequest is one text-generation call
type GenerateRequest struct {
	Prompt      string
	Context     string // optional system context
	MaxTokens   int
	Temperature float32
}

// Messages builds the role-tagged conversation sent upstream: system then user
func (r GenerateRequest) Messages() []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if r.Context != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: r.Context,
		})
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: r.Prompt,
	})
}

// Provider is the interface all upstream adapters implement
type Provider interface {
	Name() string
	HasQuota() bool
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// StatusReporter is implemented by adapters that can describe their quota state
type StatusReporter interface {
	Status() ProviderStatus
}

// ModelSwitcher is implemented by adapters that serve more than one model
type ModelSwitcher interface {
	Model() string
	SwitchModel(model string) (string, error)
}

// ProviderStatus describes one provider for status reports
type ProviderStatus struct {
	Name            string  `json:"name"`
	Available       bool    `json:"available"`
	InPriority      bool    `json:"in_priority"`
	Model           string  `json:"model,omitempty"`
	Accounts        int     `json:"accounts"`
	DailyLimit      int     `json:"daily_limit"` // per account, 0 = unlimited
	RequestsToday   int     `json:"requests_today"`
	Remaining       int     `json:"remaining"` // -1 when unlimited
	UsagePercentage float64 `json:"usage_percentage"`
	PerAccountUsage []int   `json:"per_account_usage,omitempty"`
}
