package models

import "time"

// GatewayLog represents a request log entry
type GatewayLog struct {
	ID           string
	Method       string
	Endpoint     string
	Model        string
	Provider     string // empty when served from cache or when every provider failed
	LatencyMs    int
	CacheHit     bool
	FailoverUsed bool
	Attempted    string // comma separated provider names in the order they were called
	StatusCode   int
	ErrorMessage *string
	CreatedAt    time.Time
}

// ProviderSummary aggregates request log rows for one provider
type ProviderSummary struct {
	Provider     string  `json:"provider"`
	Requests     int     `json:"requests"`
	Failures     int     `json:"failures"`
	CacheHits    int     `json:"cache_hits"`
	Failovers    int     `json:"failovers"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}
