package testutils

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"expense-tracker-proxy/internal/config"
	"expense-tracker-proxy/internal/logger"
)

// MockLogger creates a logger that discards output
func MockLogger() *logrus.Logger {
	return logger.NewWithOutput("debug", io.Discard)
}

// MockConfig creates a configuration pointing both upstreams at the given URLs
func MockConfig(exchangeRateURL, iconFinderURL string) *config.Config {
	return &config.Config{
		Port:     config.DefaultPort,
		LogLevel: "debug",
		GinMode:  "test",

		ExchangeRate: config.ExchangeRateUpstream{
			BaseURL:             exchangeRateURL,
			APIKey:              MockAPIKey,
			Timeout:             5 * time.Second,
			DefaultBaseCurrency: config.DefaultBaseCurrency,
		},
		Icons: config.IconUpstream{
			BaseURL:      iconFinderURL,
			Token:        MockIconToken,
			Timeout:      5 * time.Second,
			DefaultQuery: config.DefaultIconQuery,
			DefaultCount: config.DefaultIconCount,
		},

		RateLimitEnabled:  false,
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		RateLimitBurst:    10,

		KafkaTopic: config.DefaultKafkaTopic,
	}
}
