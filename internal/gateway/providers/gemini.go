package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mrmushfiq/llm0-freetier-router/internal/shared/config"
)

// GeminiProvider handles Google Gemini generateContent requests
type GeminiProvider struct {
	*adapter
	baseURL    string
	httpClient *http.Client
}

// GeminiRequest represents a request to Gemini's API
type GeminiRequest struct {
	SystemInstruction *GeminiContent          `json:"systemInstruction,omitempty"`
	Contents          []GeminiContent         `json:"contents"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

// GeminiContent represents content in Gemini format
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart represents a part of the content
type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiGenerationConfig represents generation parameters
type GeminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// GeminiResponse represents a response from Gemini API
type GeminiResponse struct {
	Candidates []GeminiCandidate `json:"candidates"`
}

// GeminiCandidate represents a candidate response
type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(cfg config.ProviderConfig, logger *zap.Logger) *GeminiProvider {
	p := &GeminiProvider{
		adapter: newAdapter(cfg.Name, cfg.APIKeys, cfg.DailyLimit, cfg.Models, cfg.MaxRetries, cfg.RetryDelay, logger),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
	p.call = p.generateContent
	return p
}

// generateContent makes one non-streaming generateContent call
func (p *GeminiProvider) generateContent(ctx context.Context, lease Lease, model string, req GenerateRequest) (string, error) {
	reqBody, err := json.Marshal(convertRequest(req))
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", lease.Key)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		var apiErr geminiErrorBody
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return "", NewProviderError(p.name, kindForStatus(resp.StatusCode, msg), resp.StatusCode, msg, nil)
	}

	var geminiResp GeminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return "", NewProviderError(p.name, KindMalformed, resp.StatusCode, "failed to parse response", err)
	}
	if len(geminiResp.Candidates) == 0 {
		return "", NewProviderError(p.name, KindMalformed, resp.StatusCode, "no candidates in response", nil)
	}

	var content strings.Builder
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		content.WriteString(part.Text)
	}
	return content.String(), nil
}

// convertRequest converts to Gemini format; the context becomes the system instruction
func convertRequest(req GenerateRequest) GeminiRequest {
	geminiReq := GeminiRequest{
		Contents: []GeminiContent{{
			Role:  "user",
			Parts: []GeminiPart{{Text: req.Prompt}},
		}},
	}

	if req.Context != "" {
		geminiReq.SystemInstruction = &GeminiContent{
			Parts: []GeminiPart{{Text: req.Context}},
		}
	}

	if req.Temperature != 0 || req.MaxTokens != 0 {
		cfg := &GeminiGenerationConfig{}
		if req.Temperature != 0 {
			t := req.Temperature
			cfg.Temperature = &t
		}
		if req.MaxTokens != 0 {
			n := req.MaxTokens
			cfg.MaxOutputTokens = &n
		}
		geminiReq.GenerationConfig = cfg
	}

	return geminiReq
}
