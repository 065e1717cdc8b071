package models

import "time"

// RatesResponse is the body returned by the exchange rate endpoint
type RatesResponse struct {
	Rates map[string]float64 `json:"rates"`
}

// ExchangeRateAPIResponse is the payload of the upstream latest-rates call.
// Result is "success" or "error"; on error ErrorType names the cause.
type ExchangeRateAPIResponse struct {
	Result             string             `json:"result"`
	ErrorType          string             `json:"error-type,omitempty"`
	BaseCode           string             `json:"base_code,omitempty"`
	TimeLastUpdateUnix int64              `json:"time_last_update_unix,omitempty"`
	ConversionRates    map[string]float64 `json:"conversion_rates,omitempty"`
}

// Succeeded reports whether the upstream accepted the request
func (response ExchangeRateAPIResponse) Succeeded() bool {
	return response.Result == "success"
}

// ErrorResponse is the structured error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthCheck represents the health check response
type HealthCheck struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	Services  []string  `json:"services"`
}

// Usage event outcomes
const (
	OutcomeSuccess        = "success"
	OutcomeCacheHit       = "cache_hit"
	OutcomeUpstreamError  = "upstream_error"
	OutcomeTransportError = "transport_error"
)

// UsageEvent records one proxied lookup
type UsageEvent struct {
	Service   string            `json:"service"`
	RequestID string            `json:"request_id,omitempty"`
	Query     map[string]string `json:"query"`
	Outcome   string            `json:"outcome"`
	Status    int               `json:"status"`
	LatencyMS int64             `json:"latency_ms"`
	Timestamp time.Time         `json:"timestamp"`
}

// CacheEntry is a rates table with its expiry
type CacheEntry struct {
	Data      RatesResponse
	ExpiresAt time.Time
}
