package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mrmushfiq/llm0-freetier-router/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-freetier-router/internal/shared/models"
)

const (
	defaultMaxTokens   = 500
	defaultTemperature = float32(0.7)
	logWriteTimeout    = 5 * time.Second
)

// Router is the part of the provider manager the generation handlers need
type Router interface {
	Generate(ctx context.Context, req providers.GenerateRequest) (*providers.Result, error)
}

// RequestLogger persists one row per generation request
type RequestLogger interface {
	LogRequest(ctx context.Context, log *models.GatewayLog) error
}

// GenerateRequest is the body of POST /v1/generate
type GenerateRequest struct {
	Prompt      string   `json:"prompt" validate:"required"`
	Context     string   `json:"context,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty" validate:"gte=0,lte=32768"`
	Temperature *float32 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
}

// GenerateResponse is the body returned by POST /v1/generate
type GenerateResponse struct {
	Response  string   `json:"response"`
	Provider  string   `json:"provider,omitempty"`
	CacheHit  bool     `json:"cache_hit"`
	Failover  bool     `json:"failover"`
	Attempted []string `json:"attempted,omitempty"`
	LatencyMs int64    `json:"latency_ms"`
}

// ChatCompletionRequest is the subset of the OpenAI request the gateway understands
type ChatCompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages" validate:"required,min=1,dive"`
	MaxTokens   int           `json:"max_tokens,omitempty" validate:"gte=0,lte=32768"`
	Temperature *float32      `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	Stream      bool          `json:"stream,omitempty"`
}

// ChatMessage represents a single chat message
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

type ChatHandler struct {
	router     Router
	requestLog RequestLogger
	logger     *zap.Logger
}

// NewChatHandler creates the generation handlers; requestLog may be nil
func NewChatHandler(router Router, requestLog RequestLogger, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		router:     router,
		requestLog: requestLog,
		logger:     logger,
	}
}

// HandleGenerate handles POST /v1/generate
func (h *ChatHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var body GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if !validateRequest(w, &body) {
		return
	}

	req := providers.GenerateRequest{
		Prompt:      body.Prompt,
		Context:     body.Context,
		MaxTokens:   orDefault(body.MaxTokens, defaultMaxTokens),
		Temperature: temperatureOrDefault(body.Temperature),
	}

	result, err := h.router.Generate(r.Context(), req)
	if err != nil {
		h.fail(w, r, "", startTime, err)
		return
	}

	latency := time.Since(startTime)
	setRoutingHeaders(w, result, latency)
	h.logRequest(r, "", result, latency, http.StatusOK, nil)

	respondJSON(w, http.StatusOK, GenerateResponse{
		Response:  result.Text,
		Provider:  result.Provider,
		CacheHit:  result.CacheHit,
		Failover:  result.Failover,
		Attempted: result.Attempted,
		LatencyMs: latency.Milliseconds(),
	})
}

// HandleChatCompletion handles POST /v1/chat/completions
func (h *ChatHandler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var body ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if !validateRequest(w, &body) {
		return
	}
	if body.Stream {
		respondError(w, http.StatusBadRequest, "unsupported", "streaming is not supported")
		return
	}

	req, ok := fromMessages(body.Messages)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_request", "at least one non-empty user message is required")
		return
	}
	req.MaxTokens = orDefault(body.MaxTokens, defaultMaxTokens)
	req.Temperature = temperatureOrDefault(body.Temperature)

	result, err := h.router.Generate(r.Context(), req)
	if err != nil {
		h.fail(w, r, body.Model, startTime, err)
		return
	}

	latency := time.Since(startTime)
	setRoutingHeaders(w, result, latency)
	h.logRequest(r, body.Model, result, latency, http.StatusOK, nil)

	model := body.Model
	if model == "" {
		model = result.Provider
	}

	respondJSON(w, http.StatusOK, openai.ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: result.Text,
				},
				FinishReason: openai.FinishReasonStop,
			},
		},
	})
}

// fromMessages maps a chat transcript onto prompt and context: system messages and
// earlier turns form the context, the last user message is the prompt
func fromMessages(messages []ChatMessage) (providers.GenerateRequest, bool) {
	last := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == openai.ChatMessageRoleUser && strings.TrimSpace(messages[i].Content) != "" {
			last = i
			break
		}
	}
	if last < 0 {
		return providers.GenerateRequest{}, false
	}

	var system, history []string
	for i, m := range messages {
		if i == last || m.Content == "" {
			continue
		}
		if m.Role == openai.ChatMessageRoleSystem {
			system = append(system, m.Content)
		} else {
			history = append(history, m.Role+": "+m.Content)
		}
	}

	return providers.GenerateRequest{
		Prompt:  messages[last].Content,
		Context: strings.Join(append(system, history...), "\n\n"),
	}, true
}

// fail maps router errors onto HTTP statuses
func (h *ChatHandler) fail(w http.ResponseWriter, r *http.Request, model string, startTime time.Time, err error) {
	latency := time.Since(startTime)
	status := http.StatusInternalServerError
	if errors.Is(err, providers.ErrAllProvidersExhausted) {
		status = http.StatusServiceUnavailable
	}

	h.logger.Error("Generation failed",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Int("status", status),
		zap.Error(err),
	)

	var attempted []string
	var exhausted *providers.ExhaustedError
	if errors.As(err, &exhausted) {
		attempted = exhausted.Attempted
	}
	h.logRequest(r, model, &providers.Result{Attempted: attempted}, latency, status, err)

	if status == http.StatusServiceUnavailable {
		respondError(w, status, "providers_unavailable", providers.UnavailableMessage)
		return
	}
	respondError(w, status, "internal_error", "internal error")
}

// logRequest writes the request log row asynchronously
func (h *ChatHandler) logRequest(r *http.Request, model string, result *providers.Result, latency time.Duration, status int, err error) {
	if h.requestLog == nil {
		return
	}

	log := &models.GatewayLog{
		ID:           uuid.NewString(),
		Method:       r.Method,
		Endpoint:     r.URL.Path,
		Model:        model,
		Provider:     result.Provider,
		LatencyMs:    int(latency.Milliseconds()),
		CacheHit:     result.CacheHit,
		FailoverUsed: result.Failover,
		Attempted:    strings.Join(result.Attempted, ","),
		StatusCode:   status,
		CreatedAt:    time.Now(),
	}
	if err != nil {
		errMsg := err.Error()
		log.ErrorMessage = &errMsg
	}

	// Log asynchronously to avoid blocking
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), logWriteTimeout)
		defer cancel()
		if err := h.requestLog.LogRequest(ctx, log); err != nil {
			h.logger.Error("Failed to write request log", zap.String("id", log.ID), zap.Error(err))
		}
	}()
}

func setRoutingHeaders(w http.ResponseWriter, result *providers.Result, latency time.Duration) {
	w.Header().Set("X-Cache-Hit", fmt.Sprintf("%v", result.CacheHit))
	w.Header().Set("X-Provider", result.Provider)
	w.Header().Set("X-Latency-Ms", fmt.Sprintf("%d", latency.Milliseconds()))
	if result.Failover {
		w.Header().Set("X-Failover", "true")
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func temperatureOrDefault(t *float32) float32 {
	if t == nil {
		return defaultTemperature
	}
	return *t
}
