package service

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxUpstreamBodyBytes caps how much of an upstream response is read
const maxUpstreamBodyBytes = 10 << 20

// newHTTPClient builds the pooled client used for upstream calls. A zero timeout
// leaves the call bounded only by the request context.
func newHTTPClient(timeout time.Duration) *http.Client {
	httpTransport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: httpTransport}
}

// readBody reads at most maxUpstreamBodyBytes from the response
func readBody(response *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(response.Body, maxUpstreamBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxUpstreamBodyBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxUpstreamBodyBytes)
	}
	return body, nil
}

func isSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
