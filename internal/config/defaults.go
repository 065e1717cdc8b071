package config

import "time"

// Server defaults
const (
	DefaultPort     = "3000"
	DefaultLogLevel = "info"
	DefaultGinMode  = "release"
)

// Exchange rate upstream defaults
const (
	DefaultExchangeRateBaseURL = "https://v6.exchangerate-api.com/v6"
	DefaultExchangeRateTimeout = 10 * time.Second
	DefaultBaseCurrency        = "BGN"
)

// Icon search upstream defaults
const (
	DefaultIconFinderBaseURL = "https://api.iconfinder.com/v4/icons/search"
	DefaultIconFinderTimeout = 10 * time.Second
	DefaultIconQuery         = "default"
	DefaultIconCount         = 20
)

// Rates cache defaults. A zero TTL disables caching.
const (
	DefaultRatesCacheTTL = 0
)

// Rate limiting defaults
const (
	DefaultRateLimitEnabled  = false
	DefaultRateLimitRequests = 100
	DefaultRateLimitWindow   = time.Minute
	DefaultRateLimitBurst    = 20
)

// Usage event defaults
const (
	DefaultKafkaTopic = "proxy-usage"
)
