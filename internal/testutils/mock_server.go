package testutils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MockAPIKey is the key the mock exchange rate server accepts
const MockAPIKey = "test-exchange-key"

// MockIconToken is the bearer token the mock icon server accepts
const MockIconToken = "test-icon-token"

// RecordedRequest captures what a mock upstream received
type RecordedRequest struct {
	Path          string
	Query         url.Values
	Authorization string
}

// MockExchangeRateServer imitates the ExchangeRate-API v6 latest endpoint:
// GET /<key>/latest/<base>
type MockExchangeRateServer struct {
	server *httptest.Server

	mutex    sync.Mutex
	tables   map[string]map[string]float64
	requests []RecordedRequest
	delay    time.Duration
	count    atomic.Int64
}

// NewMockExchangeRateServer starts a mock with rate tables for USD, EUR and BGN
func NewMockExchangeRateServer() *MockExchangeRateServer {
	mock := &MockExchangeRateServer{
		tables: map[string]map[string]float64{
			"USD": {"USD": 1, "EUR": 0.92, "BGN": 1.8, "GBP": 0.79, "JPY": 151.2},
			"EUR": {"EUR": 1, "USD": 1.09, "BGN": 1.9558, "GBP": 0.86},
			"BGN": {"BGN": 1, "EUR": 0.5113, "USD": 0.5556, "GBP": 0.44},
		},
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handler))
	return mock
}

func (m *MockExchangeRateServer) handler(w http.ResponseWriter, r *http.Request) {
	m.count.Add(1)

	m.mutex.Lock()
	m.requests = append(m.requests, RecordedRequest{Path: r.URL.Path, Query: r.URL.Query()})
	delay := m.delay
	m.mutex.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")

	// /<key>/latest/<base>
	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(segments) != 3 || segments[1] != "latest" {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"result": "error", "error-type": "malformed-request"})
		return
	}

	if segments[0] != MockAPIKey {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"result": "error", "error-type": "invalid-key"})
		return
	}

	m.mutex.Lock()
	table, exists := m.tables[segments[2]]
	m.mutex.Unlock()

	if !exists {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"result": "error", "error-type": "unsupported-code"})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"result":                "success",
		"base_code":             segments[2],
		"time_last_update_unix": time.Now().Unix(),
		"conversion_rates":      table,
	})
}

// URL returns the mock base URL
func (m *MockExchangeRateServer) URL() string {
	return m.server.URL
}

// Close shuts the mock down
func (m *MockExchangeRateServer) Close() {
	m.server.Close()
}

// SetTable replaces the rate table served for base
func (m *MockExchangeRateServer) SetTable(base string, table map[string]float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.tables[base] = table
}

// SetDelay makes every response wait before answering
func (m *MockExchangeRateServer) SetDelay(delay time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.delay = delay
}

// RequestCount returns how many requests reached the mock
func (m *MockExchangeRateServer) RequestCount() int {
	return int(m.count.Load())
}

// LastRequest returns the most recent request, or an empty one
func (m *MockExchangeRateServer) LastRequest() RecordedRequest {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if len(m.requests) == 0 {
		return RecordedRequest{}
	}
	return m.requests[len(m.requests)-1]
}

// MockIconFinderServer imitates the icon search endpoint
type MockIconFinderServer struct {
	server *httptest.Server

	mutex      sync.Mutex
	body       string
	statusCode int
	requests   []RecordedRequest
	count      atomic.Int64
}

// NewMockIconFinderServer starts a mock that answers with a small icon list
func NewMockIconFinderServer() *MockIconFinderServer {
	mock := &MockIconFinderServer{
		body:       `{"total_count":2,"icons":[{"icon_id":1,"tags":["coffee"]},{"icon_id":2,"tags":["cup"]}]}`,
		statusCode: http.StatusOK,
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handler))
	return mock
}

func (m *MockIconFinderServer) handler(w http.ResponseWriter, r *http.Request) {
	m.count.Add(1)

	m.mutex.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Path:          r.URL.Path,
		Query:         r.URL.Query(),
		Authorization: r.Header.Get("Authorization"),
	})
	body, statusCode := m.body, m.statusCode
	m.mutex.Unlock()

	w.Header().Set("Content-Type", "application/json")

	if r.Header.Get("Authorization") != "Bearer "+MockIconToken {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":"unauthorized","message":"Invalid API key"}`))
		return
	}

	w.WriteHeader(statusCode)
	w.Write([]byte(body))
}

// URL returns the mock search URL
func (m *MockIconFinderServer) URL() string {
	return m.server.URL + "/v4/icons/search"
}

// Close shuts the mock down
func (m *MockIconFinderServer) Close() {
	m.server.Close()
}

// SetResponse replaces the body and status the mock answers with
func (m *MockIconFinderServer) SetResponse(statusCode int, body string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.statusCode = statusCode
	m.body = body
}

// RequestCount returns how many requests reached the mock
func (m *MockIconFinderServer) RequestCount() int {
	return int(m.count.Load())
}

// LastRequest returns the most recent request, or an empty one
func (m *MockIconFinderServer) LastRequest() RecordedRequest {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if len(m.requests) == 0 {
		return RecordedRequest{}
	}
	return m.requests[len(m.requests)-1]
}

// UnreachableURL returns a URL nothing is listening on
func UnreachableURL() string {
	server := httptest.NewServer(http.NotFoundHandler())
	unreachable := server.URL
	server.Close()
	return unreachable
}
