package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"expense-tracker-proxy/internal/config"
)

// IconService relays searches to the icon search API
type IconService struct {
	configuration config.IconUpstream
	logger        *logrus.Logger
	httpClient    *http.Client
}

// NewIconService creates the service
func NewIconService(configuration config.IconUpstream, logger *logrus.Logger) *IconService {
	return &IconService{
		configuration: configuration,
		logger:        logger,
		httpClient:    newHTTPClient(configuration.Timeout),
	}
}

// DefaultQuery is the search term used when none is given
func (iconService *IconService) DefaultQuery() string {
	if iconService.configuration.DefaultQuery == "" {
		return config.DefaultIconQuery
	}
	return iconService.configuration.DefaultQuery
}

// DefaultCount is the result count used when none is given
func (iconService *IconService) DefaultCount() int {
	if iconService.configuration.DefaultCount <= 0 {
		return config.DefaultIconCount
	}
	return iconService.configuration.DefaultCount
}

// SearchIcons returns the upstream JSON payload unmodified
func (iconService *IconService) SearchIcons(ctx context.Context, query string, count int) (json.RawMessage, error) {
	startTime := time.Now()
	requestLogger := iconService.logger.WithFields(logrus.Fields{"query": query, "count": count})

	searchURL, err := iconService.buildURL(query, count)
	if err != nil {
		return nil, &ServiceError{Type: ErrorTypeUnknown, Message: "invalid icon search URL", Cause: err}
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, &ServiceError{Type: ErrorTypeUnknown, Message: "failed to create icon search request", Cause: err}
	}
	request.Header.Set("Authorization", "Bearer "+iconService.configuration.Token)
	request.Header.Set("Accept", "application/json")

	requestLogger.Debug("Searching icons")

	response, err := iconService.httpClient.Do(request)
	if err != nil {
		return nil, transportError("failed to reach icon search API", err)
	}
	defer response.Body.Close()

	body, err := readBody(response)
	if err != nil {
		return nil, transportError("failed to read icon search response", err)
	}

	if !isSuccessStatus(response.StatusCode) {
		requestLogger.WithField("status", response.StatusCode).Warn("Icon search API returned an error status")
		return nil, &ServiceError{
			Type:    ErrorTypeUpstreamRejected,
			Message: fmt.Sprintf("icon search API returned status %d", response.StatusCode),
		}
	}

	if !json.Valid(body) {
		return nil, &ServiceError{Type: ErrorTypeInvalidResponse, Message: "icon search API returned invalid JSON"}
	}

	requestLogger.WithField("latency", time.Since(startTime).String()).Debug("Icon search finished")

	return json.RawMessage(body), nil
}

// buildURL adds query and count to the configured search URL, keeping any parameters it already has
func (iconService *IconService) buildURL(query string, count int) (string, error) {
	searchURL, err := url.Parse(iconService.configuration.BaseURL)
	if err != nil {
		return "", err
	}

	parameters := searchURL.Query()
	parameters.Set("query", query)
	parameters.Set("count", strconv.Itoa(count))
	searchURL.RawQuery = parameters.Encode()

	return searchURL.String(), nil
}
