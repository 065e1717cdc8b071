// Package cache stores upstream rate tables per base currency.
package cache

import (
	"github.com/sirupsen/logrus"

	"expense-tracker-proxy/internal/config"
	"expense-tracker-proxy/internal/models"
)

// RatesCache is implemented by the rates cache backends
type RatesCache interface {
	Get(baseCurrency string) (models.RatesResponse, bool)
	Set(baseCurrency string, rates models.RatesResponse)
	Close() error
}

// New builds the cache selected by configuration. It returns nil when caching is disabled.
func New(configuration *config.Config, logger *logrus.Logger) (RatesCache, error) {
	if configuration.RatesCacheTTL <= 0 {
		return nil, nil
	}

	if configuration.RatesCacheDir != "" {
		logger.Infof("Using persistent rates cache at %s", configuration.RatesCacheDir)
		badgerCache, err := OpenBadgerCache(configuration.RatesCacheDir, configuration.RatesCacheTTL, logger)
		if err != nil {
			return nil, err
		}
		return badgerCache, nil
	}

	return NewMemoryCache(configuration.RatesCacheTTL), nil
}

func cacheKey(baseCurrency string) string {
	return "rates:" + baseCurrency
}

// copyRates returns a response whose map is not shared with the cache
func copyRates(rates models.RatesResponse) models.RatesResponse {
	copied := make(map[string]float64, len(rates.Rates))
	for currency, rate := range rates.Rates {
		copied[currency] = rate
	}
	return models.RatesResponse{Rates: copied}
}
