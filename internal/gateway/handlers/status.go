package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mrmushfiq/llm0-freetier-router/internal/gateway/cache"
	"github.com/mrmushfiq/llm0-freetier-router/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-freetier-router/internal/gateway/usage"
	"github.com/mrmushfiq/llm0-freetier-router/internal/shared/models"
)

const defaultHistoryWindow = 24 * time.Hour

// ProviderAdmin exposes usage and provider state of the manager
type ProviderAdmin interface {
	Stats() usage.Snapshot
	ProviderStatus() []providers.ProviderStatus
	SwitchModel(provider, model string) (string, error)
}

// CacheAdmin exposes cache statistics and reset
type CacheAdmin interface {
	Stats() cache.Stats
	Clear()
}

// HistorySource aggregates the persisted request log
type HistorySource interface {
	ProviderSummary(ctx context.Context, since time.Time) ([]models.ProviderSummary, error)
}

// Pinger is a dependency checked by /health
type Pinger func(ctx context.Context) error

// StatsResponse is the body of GET /v1/stats
type StatsResponse struct {
	Usage usage.Snapshot `json:"usage"`
	Cache *cache.Stats   `json:"cache,omitempty"`
}

// SwitchModelRequest is the body of POST /v1/providers/{name}/model
type SwitchModelRequest struct {
	Model string `json:"model"`
}

type StatusHandler struct {
	manager ProviderAdmin
	cache   CacheAdmin    // nil when caching is disabled
	history HistorySource // nil without a database
	checks  map[string]Pinger
	logger  *zap.Logger
}

// NewStatusHandler creates the status handlers; cache, history and checks are optional
func NewStatusHandler(manager ProviderAdmin, cache CacheAdmin, history HistorySource, checks map[string]Pinger, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{
		manager: manager,
		cache:   cache,
		history: history,
		checks:  checks,
		logger:  logger,
	}
}

// HandleStats handles GET /v1/stats
func (h *StatusHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Usage: h.manager.Stats()}
	if h.cache != nil {
		s := h.cache.Stats()
		resp.Cache = &s
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleHistory handles GET /v1/stats/history?since=24h
func (h *StatusHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		respondError(w, http.StatusNotImplemented, "not_configured", "request log requires DATABASE_URL")
		return
	}

	window := defaultHistoryWindow
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "since must be a positive duration such as 1h or 30m")
			return
		}
		window = d
	}

	summary, err := h.history.ProviderSummary(r.Context(), time.Now().Add(-window))
	if err != nil {
		h.logger.Error("Failed to read request log", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to read request log")
		return
	}
	if summary == nil {
		summary = []models.ProviderSummary{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"since":     window.String(),
		"providers": summary,
	})
}

// HandleProviders handles GET /v1/providers
func (h *StatusHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"providers": h.manager.ProviderStatus(),
	})
}

// HandleSwitchModel handles POST /v1/providers/{name}/model
func (h *StatusHandler) HandleSwitchModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var body SwitchModelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
	}

	model, err := h.manager.SwitchModel(name, body.Model)
	switch {
	case errors.Is(err, providers.ErrUnknownProvider):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	case errors.Is(err, providers.ErrUnknownModel):
		respondError(w, http.StatusBadRequest, "invalid_model", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"provider": name,
		"model":    model,
	})
}

// HandleClearCache handles DELETE /v1/cache
func (h *StatusHandler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		respondError(w, http.StatusNotImplemented, "not_configured", "response cache is disabled")
		return
	}
	h.cache.Clear()
	h.logger.Info("Response cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

// HandleHealth handles GET /health
func (h *StatusHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	available := 0
	for _, s := range h.manager.ProviderStatus() {
		if s.Available && s.InPriority {
			available++
		}
	}

	status := "ok"
	code := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}
	if available == 0 {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, map[string]interface{}{
		"status":              status,
		"providers_available": available,
		"dependencies":        deps,
	})
}
