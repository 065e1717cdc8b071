package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expense-tracker-proxy/internal/events"
	"expense-tracker-proxy/internal/models"
	"expense-tracker-proxy/internal/ratelimit"
	"expense-tracker-proxy/internal/service"
	"expense-tracker-proxy/internal/testutils"
)

type fakeRatesProvider struct {
	lookup   service.RatesLookup
	err      error
	lastBase string
}

func (f *fakeRatesProvider) GetRates(_ context.Context, baseCurrency string) (service.RatesLookup, error) {
	f.lastBase = baseCurrency
	return f.lookup, f.err
}

func (f *fakeRatesProvider) DefaultBaseCurrency() string { return "BGN" }

type fakeIconSearcher struct {
	payload   json.RawMessage
	err       error
	lastQuery string
	lastCount int
}

func (f *fakeIconSearcher) SearchIcons(_ context.Context, query string, count int) (json.RawMessage, error) {
	f.lastQuery = query
	f.lastCount = count
	return f.payload, f.err
}

func (f *fakeIconSearcher) DefaultQuery() string { return "default" }
func (f *fakeIconSearcher) DefaultCount() int    { return 20 }

type recordingPublisher struct {
	mutex  sync.Mutex
	events []models.UsageEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event models.UsageEvent) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Events() []models.UsageEvent {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]models.UsageEvent(nil), p.events...)
}

func newTestContext(target string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c, w
}

func TestNewHandlers(t *testing.T) {
	logger := testutils.MockLogger()
	handlers := NewHandlers(HandlerConfig{Logger: logger})

	require.NotNil(t, handlers)
	assert.Equal(t, logger, handlers.logger)
	assert.Equal(t, "dev", handlers.version)
	assert.Equal(t, gin.ReleaseMode, handlers.ginMode)
	assert.IsType(t, events.NopPublisher{}, handlers.publisher)
	assert.Empty(t, handlers.Services())
}

func TestHandlers_HealthCheck(t *testing.T) {
	handlers := NewHandlers(HandlerConfig{
		Logger:        testutils.MockLogger(),
		ExchangeRates: &fakeRatesProvider{},
		Icons:         &fakeIconSearcher{},
		Version:       "1.2.3",
	})

	c, w := newTestContext("/health")
	handlers.HealthCheck(c)

	assert.Equal(t, http.StatusOK, w.Code)

	var response models.HealthCheck
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, "1.2.3", response.Version)
	assert.NotEmpty(t, response.Uptime)
	assert.Equal(t, []string{"exchange-rate", "icons"}, response.Services)
}

func TestHandlers_GetExchangeRate(t *testing.T) {
	tests := []struct {
		name            string
		target          string
		lookup          service.RatesLookup
		err             error
		expectedBase    string
		expectedStatus  int
		expectedBody    string
		expectedType    string
		expectedOutcome string
	}{
		{
			name:            "explicit base",
			target:          "/api/exchange-rate?baseCurrency=USD",
			lookup:          service.RatesLookup{Response: models.RatesResponse{Rates: map[string]float64{"EUR": 0.92}}},
			expectedBase:    "USD",
			expectedStatus:  http.StatusOK,
			expectedBody:    `{"rates":{"EUR":0.92}}`,
			expectedType:    "application/json; charset=utf-8",
			expectedOutcome: models.OutcomeSuccess,
		},
		{
			name:            "missing base defaults",
			target:          "/api/exchange-rate",
			lookup:          service.RatesLookup{Response: models.RatesResponse{Rates: map[string]float64{"EUR": 0.5113}}},
			expectedBase:    "BGN",
			expectedStatus:  http.StatusOK,
			expectedBody:    `{"rates":{"EUR":0.5113}}`,
			expectedType:    "application/json; charset=utf-8",
			expectedOutcome: models.OutcomeSuccess,
		},
		{
			name:            "empty base defaults",
			target:          "/api/exchange-rate?baseCurrency=",
			lookup:          service.RatesLookup{Response: models.RatesResponse{Rates: map[string]float64{}}},
			expectedBase:    "BGN",
			expectedStatus:  http.StatusOK,
			expectedBody:    `{"rates":{}}`,
			expectedType:    "application/json; charset=utf-8",
			expectedOutcome: models.OutcomeSuccess,
		},
		{
			name:            "cache hit",
			target:          "/api/exchange-rate?baseCurrency=EUR",
			lookup:          service.RatesLookup{Response: models.RatesResponse{Rates: map[string]float64{"USD": 1.09}}, FromCache: true},
			expectedBase:    "EUR",
			expectedStatus:  http.StatusOK,
			expectedBody:    `{"rates":{"USD":1.09}}`,
			expectedType:    "application/json; charset=utf-8",
			expectedOutcome: models.OutcomeCacheHit,
		},
		{
			name:            "upstream rejected",
			target:          "/api/exchange-rate?baseCurrency=XYZ",
			err:             &service.ServiceError{Type: service.ErrorTypeUpstreamRejected, Message: "unsupported-code"},
			expectedBase:    "XYZ",
			expectedStatus:  http.StatusInternalServerError,
			expectedBody:    `{"error":"Failed to fetch exchange rates"}`,
			expectedType:    "application/json; charset=utf-8",
			expectedOutcome: models.OutcomeUpstreamError,
		},
		{
			name:            "network failure",
			target:          "/api/exchange-rate?baseCurrency=USD",
			err:             &service.ServiceError{Type: service.ErrorTypeNetwork, Message: "connection refused"},
			expectedBase:    "USD",
			expectedStatus:  http.StatusInternalServerError,
			expectedBody:    "Error fetching exchange rates.",
			expectedType:    "text/plain; charset=utf-8",
			expectedOutcome: models.OutcomeTransportError,
		},
		{
			name:            "malformed payload",
			target:          "/api/exchange-rate?baseCurrency=USD",
			err:             &service.ServiceError{Type: service.ErrorTypeInvalidResponse, Message: "bad json"},
			expectedBase:    "USD",
			expectedStatus:  http.StatusInternalServerError,
			expectedBody:    "Error fetching exchange rates.",
			expectedType:    "text/plain; charset=utf-8",
			expectedOutcome: models.OutcomeTransportError,
		},
		{
			name:            "unclassified error",
			target:          "/api/exchange-rate?baseCurrency=USD",
			err:             errors.New("boom"),
			expectedBase:    "USD",
			expectedStatus:  http.StatusInternalServerError,
			expectedBody:    "Error fetching exchange rates.",
			expectedType:    "text/plain; charset=utf-8",
			expectedOutcome: models.OutcomeTransportError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeRatesProvider{lookup: tt.lookup, err: tt.err}
			publisher := &recordingPublisher{}
			handlers := NewHandlers(HandlerConfig{
				Logger:        testutils.MockLogger(),
				ExchangeRates: provider,
				Publisher:     publisher,
			})

			c, w := newTestContext(tt.target)
			handlers.GetExchangeRate(c)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedBody, w.Body.String())
			assert.Equal(t, tt.expectedType, w.Header().Get("Content-Type"))
			assert.Equal(t, tt.expectedBase, provider.lastBase)

			published := publisher.Events()
			require.Len(t, published, 1)
			assert.Equal(t, "exchange-rate", published[0].Service)
			assert.Equal(t, tt.expectedOutcome, published[0].Outcome)
			assert.Equal(t, tt.expectedStatus, published[0].Status)
			assert.Equal(t, tt.expectedBase, published[0].Query["base"])
		})
	}
}

func TestHandlers_SearchIcons(t *testing.T) {
	tests := []struct {
		name            string
		target          string
		payload         json.RawMessage
		err             error
		expectedQuery   string
		expectedCount   int
		expectedStatus  int
		expectedBody    string
		expectedOutcome string
	}{
		{
			name:            "explicit parameters",
			target:          "/api/icons?query=coffee&count=5",
			payload:         json.RawMessage(`{"icons":[{"id":1}]}`),
			expectedQuery:   "coffee",
			expectedCount:   5,
			expectedStatus:  http.StatusOK,
			expectedBody:    `{"icons":[{"id":1}]}`,
			expectedOutcome: models.OutcomeSuccess,
		},
		{
			name:            "defaults",
			target:          "/api/icons",
			payload:         json.RawMessage(`{"icons":[]}`),
			expectedQuery:   "default",
			expectedCount:   20,
			expectedStatus:  http.StatusOK,
			expectedBody:    `{"icons":[]}`,
			expectedOutcome: models.OutcomeSuccess,
		},
		{
			name:            "non numeric count falls back",
			target:          "/api/icons?query=car&count=lots",
			payload:         json.RawMessage(`{}`),
			expectedQuery:   "car",
			expectedCount:   20,
			expectedStatus:  http.StatusOK,
			expectedBody:    `{}`,
			expectedOutcome: models.OutcomeSuccess,
		},
		{
			name:            "non positive count falls back",
			target:          "/api/icons?query=&count=0",
			payload:         json.RawMessage(`{}`),
			expectedQuery:   "default",
			expectedCount:   20,
			expectedStatus:  http.StatusOK,
			expectedBody:    `{}`,
			expectedOutcome: models.OutcomeSuccess,
		},
		{
			name:            "negative count falls back",
			target:          "/api/icons?query=car&count=-5",
			payload:         json.RawMessage(`{}`),
			expectedQuery:   "car",
			expectedCount:   20,
			expectedStatus:  http.StatusOK,
			expectedBody:    `{}`,
			expectedOutcome: models.OutcomeSuccess,
		},
		{
			name:            "upstream rejected",
			target:          "/api/icons?query=car",
			err:             &service.ServiceError{Type: service.ErrorTypeUpstreamRejected, Message: "status 401"},
			expectedQuery:   "car",
			expectedCount:   20,
			expectedStatus:  http.StatusInternalServerError,
			expectedBody:    "Error fetching icons from IconFinder API.",
			expectedOutcome: models.OutcomeUpstreamError,
		},
		{
			name:            "network failure",
			target:          "/api/icons?query=car",
			err:             &service.ServiceError{Type: service.ErrorTypeNetwork, Message: "connection refused"},
			expectedQuery:   "car",
			expectedCount:   20,
			expectedStatus:  http.StatusInternalServerError,
			expectedBody:    "Error fetching icons from IconFinder API.",
			expectedOutcome: models.OutcomeTransportError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &fakeIconSearcher{payload: tt.payload, err: tt.err}
			publisher := &recordingPublisher{}
			handlers := NewHandlers(HandlerConfig{
				Logger:    testutils.MockLogger(),
				Icons:     searcher,
				Publisher: publisher,
			})

			c, w := newTestContext(tt.target)
			handlers.SearchIcons(c)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedBody, w.Body.String())
			assert.Equal(t, tt.expectedQuery, searcher.lastQuery)
			assert.Equal(t, tt.expectedCount, searcher.lastCount)

			published := publisher.Events()
			require.Len(t, published, 1)
			assert.Equal(t, "icons", published[0].Service)
			assert.Equal(t, tt.expectedOutcome, published[0].Outcome)
			assert.Equal(t, tt.expectedQuery, published[0].Query["query"])
		})
	}
}

func TestHandlers_PublishFailureDoesNotAffectResponse(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("broker down")}
	handlers := NewHandlers(HandlerConfig{
		Logger:    testutils.MockLogger(),
		Icons:     &fakeIconSearcher{payload: json.RawMessage(`{"icons":[]}`)},
		Publisher: publisher,
	})

	c, w := newTestContext("/api/icons")
	handlers.SearchIcons(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"icons":[]}`, w.Body.String())
	assert.Len(t, publisher.Events(), 1)
}

func TestHandlers_SetupRoutes_SingleService(t *testing.T) {
	handlers := NewHandlers(HandlerConfig{
		Logger:        testutils.MockLogger(),
		ExchangeRates: &fakeRatesProvider{lookup: service.RatesLookup{Response: models.RatesResponse{Rates: map[string]float64{}}}},
		GinMode:       gin.TestMode,
	})
	router := handlers.SetupRoutes()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/exchange-rate", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/icons", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_RateLimitMiddleware(t *testing.T) {
	cfg := testutils.MockConfig("", "")
	cfg.RateLimitEnabled = true
	cfg.RateLimitBurst = 2

	rateLimiter := ratelimit.NewLimiter(cfg, testutils.MockLogger())
	defer rateLimiter.Stop()

	handlers := NewHandlers(HandlerConfig{
		Logger:      testutils.MockLogger(),
		Icons:       &fakeIconSearcher{payload: json.RawMessage(`{"icons":[]}`)},
		RateLimiter: rateLimiter,
		GinMode:     gin.TestMode,
	})
	router := handlers.SetupRoutes()

	statuses := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/icons", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		last = httptest.NewRecorder()
		router.ServeHTTP(last, req)
		statuses = append(statuses, last.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
	assert.JSONEq(t, `{"error":"Rate limit exceeded"}`, last.Body.String())
	assert.Equal(t, "100", last.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, last.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "*", last.Header().Get("Access-Control-Allow-Origin"))

	// another client still has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/api/icons", nil)
	req.RemoteAddr = "198.51.100.8:4000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlers_RateLimitMiddleware_ForwardedHeaders(t *testing.T) {
	tests := []struct {
		name           string
		trustedProxies []string
		expected       []int
	}{
		{
			name:     "untrusted peer cannot rotate its identity",
			expected: []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests},
		},
		{
			name:           "trusted proxy forwards distinct clients",
			trustedProxies: []string{"198.51.100.0/24"},
			expected:       []int{http.StatusOK, http.StatusOK, http.StatusOK, http.StatusOK},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testutils.MockConfig("", "")
			cfg.RateLimitEnabled = true
			cfg.RateLimitBurst = 2

			rateLimiter := ratelimit.NewLimiter(cfg, testutils.MockLogger())
			defer rateLimiter.Stop()

			handlers := NewHandlers(HandlerConfig{
				Logger:         testutils.MockLogger(),
				Icons:          &fakeIconSearcher{payload: json.RawMessage(`{"icons":[]}`)},
				RateLimiter:    rateLimiter,
				GinMode:        gin.TestMode,
				TrustedProxies: tt.trustedProxies,
			})
			router := handlers.SetupRoutes()

			statuses := make([]int, 0, len(tt.expected))
			for i := range tt.expected {
				req := httptest.NewRequest(http.MethodGet, "/api/icons", nil)
				req.RemoteAddr = "198.51.100.7:4000"
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i+1))
				req.Header.Set("X-Real-IP", fmt.Sprintf("10.0.1.%d", i+1))
				w := httptest.NewRecorder()
				router.ServeHTTP(w, req)
				statuses = append(statuses, w.Code)
			}

			assert.Equal(t, tt.expected, statuses)
		})
	}
}
