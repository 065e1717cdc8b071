package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"expense-tracker-proxy/internal/cache"
	"expense-tracker-proxy/internal/config"
	"expense-tracker-proxy/internal/models"
)

// maxFlightDuration bounds a shared upstream call when no client timeout is configured
const maxFlightDuration = time.Minute

// RatesLookup is the outcome of a successful GetRates call
type RatesLookup struct {
	Response  models.RatesResponse
	FromCache bool
}

// ExchangeRateService fetches conversion tables from the exchange rate API
type ExchangeRateService struct {
	configuration config.ExchangeRateUpstream
	logger        *logrus.Logger
	httpClient    *http.Client
	cache         cache.RatesCache

	singleFlightGroup singleflight.Group
	flightTimeout     time.Duration
}

// NewExchangeRateService creates the service. ratesCache may be nil.
func NewExchangeRateService(configuration config.ExchangeRateUpstream, ratesCache cache.RatesCache, logger *logrus.Logger) *ExchangeRateService {
	return &ExchangeRateService{
		configuration: configuration,
		logger:        logger,
		httpClient:    newHTTPClient(configuration.Timeout),
		cache:         ratesCache,
		flightTimeout: flightTimeoutFor(configuration.Timeout),
	}
}

// flightTimeoutFor never returns zero, so a hung upstream cannot pin a shared flight
func flightTimeoutFor(clientTimeout time.Duration) time.Duration {
	if clientTimeout > 0 {
		return min(clientTimeout, maxFlightDuration)
	}
	return maxFlightDuration
}

// DefaultBaseCurrency is used when the caller does not name one
func (exchangeRateService *ExchangeRateService) DefaultBaseCurrency() string {
	if exchangeRateService.configuration.DefaultBaseCurrency == "" {
		return config.DefaultBaseCurrency
	}
	return exchangeRateService.configuration.DefaultBaseCurrency
}

// GetRates returns the conversion table for baseCurrency, matched case-insensitively.
// Concurrent lookups for the same base share one upstream call; the caller stops
// waiting when ctx is done.
func (exchangeRateService *ExchangeRateService) GetRates(ctx context.Context, baseCurrency string) (RatesLookup, error) {
	baseCurrency = strings.ToUpper(strings.TrimSpace(baseCurrency))

	if exchangeRateService.cache != nil {
		if cached, ok := exchangeRateService.cache.Get(baseCurrency); ok {
			return RatesLookup{Response: cached, FromCache: true}, nil
		}
	}

	resultChannel := exchangeRateService.singleFlightGroup.DoChan(baseCurrency, func() (interface{}, error) {
		// a flight that finished between our cache miss and this call has already stored the table
		if exchangeRateService.cache != nil {
			if cached, ok := exchangeRateService.cache.Get(baseCurrency); ok {
				return RatesLookup{Response: cached, FromCache: true}, nil
			}
		}

		// Detached from the first caller so one disconnect does not fail the others.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exchangeRateService.flightTimeout)
		defer cancel()

		rates, err := exchangeRateService.fetchRates(flightCtx, baseCurrency)
		if err != nil {
			return RatesLookup{}, err
		}
		if exchangeRateService.cache != nil {
			exchangeRateService.cache.Set(baseCurrency, rates)
		}
		return RatesLookup{Response: rates}, nil
	})

	select {
	case <-ctx.Done():
		return RatesLookup{}, &ServiceError{
			Type:    ErrorTypeContextCancelled,
			Message: "request context cancelled",
			Cause:   ctx.Err(),
		}
	case result := <-resultChannel:
		if result.Err != nil {
			return RatesLookup{}, result.Err
		}
		return result.Val.(RatesLookup), nil
	}
}

// fetchRates performs the upstream call and unwraps the conversion table
func (exchangeRateService *ExchangeRateService) fetchRates(ctx context.Context, baseCurrency string) (models.RatesResponse, error) {
	startTime := time.Now()
	requestLogger := exchangeRateService.logger.WithField("base", baseCurrency)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, exchangeRateService.buildURL(baseCurrency), nil)
	if err != nil {
		return models.RatesResponse{}, &ServiceError{Type: ErrorTypeUnknown, Message: "failed to create exchange rate request", Cause: err}
	}
	request.Header.Set("Accept", "application/json")

	requestLogger.Debug("Fetching exchange rates")

	response, err := exchangeRateService.httpClient.Do(request)
	if err != nil {
		// url.Error carries the full URL, which embeds the API key.
		return models.RatesResponse{}, transportError("failed to reach exchange rate API", redactURLError(err))
	}
	defer response.Body.Close()

	body, err := readBody(response)
	if err != nil {
		return models.RatesResponse{}, transportError("failed to read exchange rate response", err)
	}

	var payload models.ExchangeRateAPIResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.RatesResponse{}, &ServiceError{
			Type:    ErrorTypeInvalidResponse,
			Message: fmt.Sprintf("failed to parse exchange rate response (status %d)", response.StatusCode),
			Cause:   err,
		}
	}

	if !payload.Succeeded() {
		requestLogger.WithFields(logrus.Fields{
			"status":     response.StatusCode,
			"result":     payload.Result,
			"error_type": payload.ErrorType,
		}).Warn("Exchange rate API reported an error")

		return models.RatesResponse{}, &ServiceError{
			Type:    ErrorTypeUpstreamRejected,
			Message: "exchange rate API reported an error",
			Cause:   fmt.Errorf("result=%q error-type=%q", payload.Result, payload.ErrorType),
		}
	}

	rates := payload.ConversionRates
	if rates == nil {
		rates = map[string]float64{}
	}

	requestLogger.WithFields(logrus.Fields{
		"currencies": len(rates),
		"latency":    time.Since(startTime).String(),
	}).Debug("Fetched exchange rates")

	return models.RatesResponse{Rates: rates}, nil
}

// buildURL produces <base>/<key>/latest/<currency>
func (exchangeRateService *ExchangeRateService) buildURL(baseCurrency string) string {
	return fmt.Sprintf("%s/%s/latest/%s",
		exchangeRateService.configuration.BaseURL,
		url.PathEscape(exchangeRateService.configuration.APIKey),
		url.PathEscape(baseCurrency))
}

// redactURLError drops the request URL from client errors
func redactURLError(err error) error {
	var urlError *url.Error
	if errors.As(err, &urlError) {
		return fmt.Errorf("%s exchange rate API: %w", urlError.Op, urlError.Err)
	}
	return err
}
