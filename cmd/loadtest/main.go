package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// LoadTestConfig holds configuration for load testing
type LoadTestConfig struct {
	BaseURL         string
	Paths           []string
	ConcurrentUsers int
	RequestsPerUser int
	Timeout         time.Duration
	TestDuration    time.Duration
	RampUpDuration  time.Duration
	ThinkTime       time.Duration
}

// LoadTestResult holds the result of a single request
type LoadTestResult struct {
	UserID     int
	RequestID  int
	Path       string
	StatusCode int
	Duration   time.Duration
	Success    bool
	Error      error
	Timestamp  time.Time
}

// LoadTestSummary holds the summary of load test results
type LoadTestSummary struct {
	TotalRequests       int
	SuccessfulRequests  int
	FailedRequests      int
	RateLimited         int
	StatusCodes         map[int]int
	TotalDuration       time.Duration
	AverageResponseTime time.Duration
	MinResponseTime     time.Duration
	MaxResponseTime     time.Duration
	RequestsPerSecond   float64
	ErrorRate           float64
	ResponseTime95th    time.Duration
	ResponseTime99th    time.Duration
}

func main() {
	var config LoadTestConfig
	var paths string

	flag.StringVar(&config.BaseURL, "url", "http://localhost:3000", "Proxy base URL")
	flag.StringVar(&paths, "paths", "/api/exchange-rate,/api/exchange-rate?baseCurrency=USD,/api/icons?query=wallet&count=10",
		"Comma separated request paths; users rotate through them")
	flag.IntVar(&config.ConcurrentUsers, "users", 10, "Number of concurrent users")
	flag.IntVar(&config.RequestsPerUser, "requests", 100, "Number of requests per user")
	flag.DurationVar(&config.Timeout, "timeout", 30*time.Second, "Request timeout")
	flag.DurationVar(&config.TestDuration, "duration", 0, "Test duration (0 = run until all requests complete)")
	flag.DurationVar(&config.RampUpDuration, "rampup", 5*time.Second, "Ramp-up duration")
	flag.DurationVar(&config.ThinkTime, "think", 100*time.Millisecond, "Think time between requests")
	flag.Parse()

	config.Paths = splitPaths(paths)
	if len(config.Paths) == 0 || config.ConcurrentUsers <= 0 {
		fmt.Fprintln(os.Stderr, "at least one path and one user are required")
		os.Exit(2)
	}

	fmt.Printf("Starting load test against %s\n", config.BaseURL)
	fmt.Printf("Paths: %s\n", strings.Join(config.Paths, " | "))
	fmt.Printf("Concurrent Users: %d, Requests per User: %d\n", config.ConcurrentUsers, config.RequestsPerUser)
	fmt.Printf("Timeout: %v, Ramp-up: %v, Think Time: %v, Duration: %v\n",
		config.Timeout, config.RampUpDuration, config.ThinkTime, config.TestDuration)
	fmt.Println()

	summary, err := runLoadTest(context.Background(), config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load test aborted: %v\n", err)
		os.Exit(1)
	}

	printSummary(summary)
}

func splitPaths(value string) []string {
	var paths []string
	for _, path := range strings.Split(value, ",") {
		if path = strings.TrimSpace(path); path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}

func runLoadTest(parent context.Context, config LoadTestConfig) (LoadTestSummary, error) {
	results := make(chan LoadTestResult, config.ConcurrentUsers*config.RequestsPerUser)
	client := &http.Client{Timeout: config.Timeout}
	baseURL := strings.TrimRight(config.BaseURL, "/")

	ctx := parent
	if config.TestDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, config.TestDuration)
		defer cancel()
	}

	startTime := time.Now()
	group, groupCtx := errgroup.WithContext(ctx)
	rampUpDelay := config.RampUpDuration / time.Duration(config.ConcurrentUsers)

	for userID := 0; userID < config.ConcurrentUsers; userID++ {
		userID := userID
		group.Go(func() error {
			if !sleepContext(groupCtx, time.Duration(userID)*rampUpDelay) {
				return nil
			}

			for requestID := 0; requestID < config.RequestsPerUser; requestID++ {
				if groupCtx.Err() != nil {
					return nil
				}

				path := config.Paths[(userID+requestID)%len(config.Paths)]
				results <- makeRequest(groupCtx, client, baseURL, path, userID, requestID)

				if !sleepContext(groupCtx, config.ThinkTime) {
					return nil
				}
			}
			return nil
		})
	}

	err := group.Wait()
	close(results)

	return processResults(results, time.Since(startTime)), err
}

// sleepContext waits for d and reports false if ctx ended first
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func makeRequest(ctx context.Context, client *http.Client, baseURL, path string, userID, requestID int) LoadTestResult {
	start := time.Now()
	result := LoadTestResult{
		UserID:    userID,
		RequestID: requestID,
		Path:      path,
		Timestamp: start,
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		result.Error = err
		return result
	}

	resp, err := client.Do(request)
	if err != nil {
		result.Duration = time.Since(start)
		result.Error = err
		return result
	}
	defer resp.Body.Close()

	// Read the body so the timing covers the complete response
	_, _ = io.Copy(io.Discard, resp.Body)

	result.Duration = time.Since(start)
	result.StatusCode = resp.StatusCode
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	return result
}

func processResults(results <-chan LoadTestResult, totalDuration time.Duration) LoadTestSummary {
	summary := LoadTestSummary{
		TotalDuration: totalDuration,
		StatusCodes:   make(map[int]int),
	}
	var responseTimes []time.Duration

	for result := range results {
		summary.TotalRequests++
		summary.StatusCodes[result.StatusCode]++
		responseTimes = append(responseTimes, result.Duration)

		switch {
		case result.Success:
			summary.SuccessfulRequests++
		case result.StatusCode == http.StatusTooManyRequests:
			summary.RateLimited++
			summary.FailedRequests++
		default:
			summary.FailedRequests++
		}
	}

	if summary.TotalRequests == 0 {
		return summary
	}

	summary.ErrorRate = float64(summary.FailedRequests) / float64(summary.TotalRequests) * 100
	if totalDuration > 0 {
		summary.RequestsPerSecond = float64(summary.TotalRequests) / totalDuration.Seconds()
	}

	sort.Slice(responseTimes, func(i, j int) bool { return responseTimes[i] < responseTimes[j] })

	var totalResponseTime time.Duration
	for _, responseTime := range responseTimes {
		totalResponseTime += responseTime
	}

	summary.MinResponseTime = responseTimes[0]
	summary.MaxResponseTime = responseTimes[len(responseTimes)-1]
	summary.AverageResponseTime = totalResponseTime / time.Duration(len(responseTimes))
	summary.ResponseTime95th = calculatePercentile(responseTimes, 95)
	summary.ResponseTime99th = calculatePercentile(responseTimes, 99)

	return summary
}

// calculatePercentile expects sorted input
func calculatePercentile(sorted []time.Duration, percentile int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * float64(percentile) / 100.0)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func printSummary(summary LoadTestSummary) {
	fmt.Println("=== Load Test Results ===")
	fmt.Printf("Total Requests: %d\n", summary.TotalRequests)
	if summary.TotalRequests == 0 {
		return
	}

	fmt.Printf("Successful Requests: %d (%.2f%%)\n", summary.SuccessfulRequests,
		float64(summary.SuccessfulRequests)/float64(summary.TotalRequests)*100)
	fmt.Printf("Failed Requests: %d (%.2f%%), rate limited: %d\n", summary.FailedRequests, summary.ErrorRate, summary.RateLimited)

	statusCodes := make([]int, 0, len(summary.StatusCodes))
	for statusCode := range summary.StatusCodes {
		statusCodes = append(statusCodes, statusCode)
	}
	sort.Ints(statusCodes)
	for _, statusCode := range statusCodes {
		label := fmt.Sprint(statusCode)
		if statusCode == 0 {
			label = "transport error"
		}
		fmt.Printf("  %s: %d\n", label, summary.StatusCodes[statusCode])
	}

	fmt.Printf("Total Duration: %v\n", summary.TotalDuration)
	fmt.Printf("Requests per Second: %.2f\n", summary.RequestsPerSecond)
	fmt.Printf("Average Response Time: %v\n", summary.AverageResponseTime)
	fmt.Printf("Min/Max Response Time: %v / %v\n", summary.MinResponseTime, summary.MaxResponseTime)
	fmt.Printf("95th / 99th Percentile: %v / %v\n", summary.ResponseTime95th, summary.ResponseTime99th)

	fmt.Println("\n=== Performance Assessment ===")
	if summary.ErrorRate > 5.0 {
		fmt.Printf("⚠️  High error rate: %.2f%% (target: < 5%%)\n", summary.ErrorRate)
	} else {
		fmt.Printf("✅ Error rate: %.2f%% (good)\n", summary.ErrorRate)
	}

	if summary.AverageResponseTime > 2*time.Second {
		fmt.Printf("⚠️  High average response time: %v (target: < 2s)\n", summary.AverageResponseTime)
	} else {
		fmt.Printf("✅ Average response time: %v (good)\n", summary.AverageResponseTime)
	}
}
