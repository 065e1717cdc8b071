package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expense-tracker-proxy/internal/cache"
	"expense-tracker-proxy/internal/config"
	"expense-tracker-proxy/internal/testutils"
)

func newExchangeRateService(baseURL string, ratesCache cache.RatesCache) *ExchangeRateService {
	cfg := testutils.MockConfig(baseURL, "")
	return NewExchangeRateService(cfg.ExchangeRate, ratesCache, testutils.MockLogger())
}

func TestExchangeRateService_buildURL(t *testing.T) {
	tests := []struct {
		name         string
		baseURL      string
		apiKey       string
		baseCurrency string
		expected     string
	}{
		{
			name:         "plain currency",
			baseURL:      "https://v6.exchangerate-api.com/v6",
			apiKey:       "abc123",
			baseCurrency: "USD",
			expected:     "https://v6.exchangerate-api.com/v6/abc123/latest/USD",
		},
		{
			name:         "path characters are escaped",
			baseURL:      "https://v6.exchangerate-api.com/v6",
			apiKey:       "abc123",
			baseCurrency: "../USD",
			expected:     "https://v6.exchangerate-api.com/v6/abc123/latest/..%2FUSD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exchangeRateService := NewExchangeRateService(config.ExchangeRateUpstream{BaseURL: tt.baseURL, APIKey: tt.apiKey}, nil, testutils.MockLogger())
			assert.Equal(t, tt.expected, exchangeRateService.buildURL(tt.baseCurrency))
		})
	}
}

func TestExchangeRateService_GetRates(t *testing.T) {
	mockServer := testutils.NewMockExchangeRateServer()
	defer mockServer.Close()

	exchangeRateService := newExchangeRateService(mockServer.URL(), nil)

	lookup, err := exchangeRateService.GetRates(context.Background(), "USD")
	require.NoError(t, err)
	assert.False(t, lookup.FromCache)
	assert.Equal(t, 0.92, lookup.Response.Rates["EUR"])
	assert.Equal(t, "/"+testutils.MockAPIKey+"/latest/USD", mockServer.LastRequest().Path)

	for currency, rate := range lookup.Response.Rates {
		assert.Greater(t, rate, 0.0, "rate for %s", currency)
	}
}

func TestExchangeRateService_UpstreamRejected(t *testing.T) {
	mockServer := testutils.NewMockExchangeRateServer()
	defer mockServer.Close()

	tests := []struct {
		name         string
		apiKey       string
		baseCurrency string
	}{
		{"unsupported currency", testutils.MockAPIKey, "XXX"},
		{"invalid key", "wrong-key", "USD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exchangeRateService := NewExchangeRateService(config.ExchangeRateUpstream{
				BaseURL: mockServer.URL(),
				APIKey:  tt.apiKey,
				Timeout: time.Second,
			}, nil, testutils.MockLogger())

			_, err := exchangeRateService.GetRates(context.Background(), tt.baseCurrency)
			require.Error(t, err)
			assert.True(t, IsUpstreamRejected(err))
		})
	}
}

func TestExchangeRateService_SuccessWithoutRates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"success","base_code":"BGN"}`))
	}))
	defer server.Close()

	lookup, err := newExchangeRateService(server.URL, nil).GetRates(context.Background(), "BGN")
	require.NoError(t, err)
	assert.NotNil(t, lookup.Response.Rates)
	assert.Empty(t, lookup.Response.Rates)
}

func TestExchangeRateService_TransportFailures(t *testing.T) {
	malformed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer malformed.Close()

	tests := []struct {
		name     string
		baseURL  string
		wantType ErrorType
	}{
		{"connection refused", testutils.UnreachableURL(), ErrorTypeNetwork},
		{"non JSON body", malformed.URL, ErrorTypeInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newExchangeRateService(tt.baseURL, nil).GetRates(context.Background(), "USD")
			require.Error(t, err)
			assert.Equal(t, tt.wantType, ErrorTypeOf(err))
			assert.False(t, IsUpstreamRejected(err))
			assert.NotContains(t, err.Error(), testutils.MockAPIKey)
		})
	}
}

func TestExchangeRateService_Timeout(t *testing.T) {
	mockServer := testutils.NewMockExchangeRateServer()
	defer mockServer.Close()
	mockServer.SetDelay(500 * time.Millisecond)

	exchangeRateService := NewExchangeRateService(config.ExchangeRateUpstream{
		BaseURL: mockServer.URL(),
		APIKey:  testutils.MockAPIKey,
		Timeout: 50 * time.Millisecond,
	}, nil, testutils.MockLogger())

	_, err := exchangeRateService.GetRates(context.Background(), "USD")
	require.Error(t, err)
	assert.False(t, IsUpstreamRejected(err))
}

func TestExchangeRateService_ContextCancelled(t *testing.T) {
	mockServer := testutils.NewMockExchangeRateServer()
	defer mockServer.Close()
	mockServer.SetDelay(500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newExchangeRateService(mockServer.URL(), nil).GetRates(ctx, "USD")
	require.Error(t, err)
	assert.Equal(t, ErrorTypeContextCancelled, ErrorTypeOf(err))
}

func TestExchangeRateService_Cache(t *testing.T) {
	mockServer := testutils.NewMockExchangeRateServer()
	defer mockServer.Close()

	exchangeRateService := newExchangeRateService(mockServer.URL(), cache.NewMemoryCache(time.Minute))

	first, err := exchangeRateService.GetRates(context.Background(), "EUR")
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := exchangeRateService.GetRates(context.Background(), "EUR")
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, 1, mockServer.RequestCount())

	_, err = exchangeRateService.GetRates(context.Background(), "XXX")
	require.Error(t, err)
	_, err = exchangeRateService.GetRates(context.Background(), "XXX")
	require.Error(t, err)
	assert.Equal(t, 3, mockServer.RequestCount(), "errors must not be cached")
}

func TestExchangeRateService_CoalescesConcurrentLookups(t *testing.T) {
	mockServer := testutils.NewMockExchangeRateServer()
	defer mockServer.Close()
	mockServer.SetDelay(200 * time.Millisecond)

	exchangeRateService := newExchangeRateService(mockServer.URL(), nil)

	const callers = 20
	var waitGroup sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			lookup, err := exchangeRateService.GetRates(context.Background(), "BGN")
			if err == nil && lookup.Response.Rates["EUR"] != 0.5113 {
				err = assert.AnError
			}
			errs <- err
		}()
	}

	waitGroup.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Less(t, mockServer.RequestCount(), callers)
}

func TestExchangeRateService_DefaultBaseCurrency(t *testing.T) {
	assert.Equal(t, "BGN", NewExchangeRateService(config.ExchangeRateUpstream{}, nil, testutils.MockLogger()).DefaultBaseCurrency())
	assert.Equal(t, "USD", NewExchangeRateService(config.ExchangeRateUpstream{DefaultBaseCurrency: "USD"}, nil, testutils.MockLogger()).DefaultBaseCurrency())
}

func TestExchangeRateService_NormalizesBaseCurrency(t *testing.T) {
	mockServer := testutils.NewMockExchangeRateServer()
	defer mockServer.Close()

	exchangeRateService := newExchangeRateService(mockServer.URL(), cache.NewMemoryCache(time.Minute))

	first, err := exchangeRateService.GetRates(context.Background(), " usd ")
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, "/"+testutils.MockAPIKey+"/latest/USD", mockServer.LastRequest().Path)

	second, err := exchangeRateService.GetRates(context.Background(), "USD")
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, 1, mockServer.RequestCount())
}

func TestFlightTimeoutFor(t *testing.T) {
	assert.Equal(t, maxFlightDuration, flightTimeoutFor(0))
	assert.Equal(t, 5*time.Second, flightTimeoutFor(5*time.Second))
	assert.Equal(t, maxFlightDuration, flightTimeoutFor(10*time.Minute))
}

func TestExchangeRateService_HungUpstreamReleasesFlight(t *testing.T) {
	mockServer := testutils.NewMockExchangeRateServer()
	defer mockServer.Close()
	mockServer.SetDelay(time.Hour)

	// no client timeout, so only the flight deadline ends the hung call
	exchangeRateService := NewExchangeRateService(config.ExchangeRateUpstream{
		BaseURL: mockServer.URL(),
		APIKey:  testutils.MockAPIKey,
	}, nil, testutils.MockLogger())
	require.Equal(t, maxFlightDuration, exchangeRateService.flightTimeout)
	exchangeRateService.flightTimeout = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := exchangeRateService.GetRates(ctx, "BGN")
	require.Error(t, err)
	assert.Equal(t, ErrorTypeContextCancelled, ErrorTypeOf(err))

	mockServer.SetDelay(0)

	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		lookup, err := exchangeRateService.GetRates(ctx, "BGN")
		return err == nil && lookup.Response.Rates["EUR"] == 0.5113
	}, 3*time.Second, 20*time.Millisecond)
}
