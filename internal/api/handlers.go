package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"expense-tracker-proxy/internal/config"
	"expense-tracker-proxy/internal/events"
	"expense-tracker-proxy/internal/middleware"
	"expense-tracker-proxy/internal/models"
	"expense-tracker-proxy/internal/ratelimit"
	"expense-tracker-proxy/internal/service"
)

// Fixed client-facing failure bodies
const (
	ExchangeRateUpstreamErrorMessage = "Failed to fetch exchange rates"
	ExchangeRateFailureText          = "Error fetching exchange rates."
	IconFailureText                  = "Error fetching icons from IconFinder API."
)

// RatesProvider looks up conversion tables
type RatesProvider interface {
	GetRates(ctx context.Context, baseCurrency string) (service.RatesLookup, error)
	DefaultBaseCurrency() string
}

// IconSearcher relays icon searches
type IconSearcher interface {
	SearchIcons(ctx context.Context, query string, count int) (json.RawMessage, error)
	DefaultQuery() string
	DefaultCount() int
}

// HandlerConfig wires the handlers. A nil ExchangeRates or Icons leaves that route unregistered.
type HandlerConfig struct {
	Logger         *logrus.Logger
	ExchangeRates  RatesProvider
	Icons          IconSearcher
	RateLimiter    *ratelimit.Limiter
	Publisher      events.Publisher
	Version        string
	GinMode        string
	SwaggerEnabled bool
	// TrustedProxies whose X-Forwarded-For and X-Real-IP headers are honored.
	TrustedProxies []string
}

// Handlers contains all HTTP handlers
type Handlers struct {
	logger         *logrus.Logger
	startTime      time.Time
	exchangeRates  RatesProvider
	icons          IconSearcher
	rateLimiter    *ratelimit.Limiter
	publisher      events.Publisher
	version        string
	ginMode        string
	swaggerEnabled bool
	trustedProxies []string
}

// NewHandlers creates a new handlers instance
func NewHandlers(handlerConfig HandlerConfig) *Handlers {
	publisher := handlerConfig.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	version := handlerConfig.Version
	if version == "" {
		version = "dev"
	}

	ginMode := handlerConfig.GinMode
	if ginMode == "" {
		ginMode = gin.ReleaseMode
	}

	return &Handlers{
		logger:         handlerConfig.Logger,
		startTime:      time.Now(),
		exchangeRates:  handlerConfig.ExchangeRates,
		icons:          handlerConfig.Icons,
		rateLimiter:    handlerConfig.RateLimiter,
		publisher:      publisher,
		version:        version,
		ginMode:        ginMode,
		swaggerEnabled: handlerConfig.SwaggerEnabled,
		trustedProxies: handlerConfig.TrustedProxies,
	}
}

// SetupRoutes configures all the routes using Gin
func (handlers *Handlers) SetupRoutes() *gin.Engine {
	gin.SetMode(handlers.ginMode)

	router := gin.New()

	// Without trusted proxies ClientIP is the connection address
	if err := router.SetTrustedProxies(handlers.trustedProxies); err != nil {
		handlers.logger.WithError(err).Warn("Ignoring invalid trusted proxies")
		_ = router.SetTrustedProxies(nil)
	}

	router.Use(middleware.RequestLogger(handlers.logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())

	if handlers.rateLimiter != nil && handlers.rateLimiter.Configuration.RateLimitEnabled {
		router.Use(handlers.rateLimitMiddleware())
	}

	router.GET("/health", handlers.HealthCheck)

	if handlers.swaggerEnabled {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	apiGroup := router.Group("/api")
	{
		if handlers.exchangeRates != nil {
			apiGroup.GET("/exchange-rate", handlers.GetExchangeRate)
		}
		if handlers.icons != nil {
			apiGroup.GET("/icons", handlers.SearchIcons)
		}
	}

	return router
}

// Services lists the enabled proxy services
func (handlers *Handlers) Services() []string {
	services := make([]string, 0, 2)
	if handlers.exchangeRates != nil {
		services = append(services, string(config.ServiceExchangeRate))
	}
	if handlers.icons != nil {
		services = append(services, string(config.ServiceIcons))
	}
	return services
}

// HealthCheck handles health check requests
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} models.HealthCheck
// @Router /health [get]
func (handlers *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthCheck{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   handlers.version,
		Uptime:    time.Since(handlers.startTime).String(),
		Services:  handlers.Services(),
	})
}

// GetExchangeRate returns the conversion table for a base currency
// @Summary Latest exchange rates
// @Description Relays the conversion table for baseCurrency from the exchange rate API
// @Tags exchange-rate
// @Produce json
// @Param baseCurrency query string false "ISO 4217 base currency" default(BGN)
// @Success 200 {object} models.RatesResponse
// @Failure 500 {object} models.ErrorResponse "upstream reported an error"
// @Failure 429 {object} models.ErrorResponse
// @Router /api/exchange-rate [get]
func (handlers *Handlers) GetExchangeRate(c *gin.Context) {
	startTime := time.Now()

	baseCurrency := c.Query("baseCurrency")
	if baseCurrency == "" {
		baseCurrency = handlers.exchangeRates.DefaultBaseCurrency()
	}

	summary := map[string]string{"base": baseCurrency}
	requestLogger := handlers.logger.WithFields(logrus.Fields{
		"service":    config.ServiceExchangeRate,
		"request_id": middleware.GetRequestID(c),
		"base":       baseCurrency,
	})

	lookup, err := handlers.exchangeRates.GetRates(c.Request.Context(), baseCurrency)
	if err != nil {
		requestLogger.WithFields(logrus.Fields{
			"error":      err.Error(),
			"error_type": service.ErrorTypeOf(err).String(),
		}).Error("Failed to fetch exchange rates")

		handlers.publish(c, config.ServiceExchangeRate, summary, outcomeFor(err), http.StatusInternalServerError, startTime)

		if service.IsUpstreamRejected(err) {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: ExchangeRateUpstreamErrorMessage})
			return
		}
		c.String(http.StatusInternalServerError, ExchangeRateFailureText)
		return
	}

	outcome := models.OutcomeSuccess
	if lookup.FromCache {
		outcome = models.OutcomeCacheHit
	}
	handlers.publish(c, config.ServiceExchangeRate, summary, outcome, http.StatusOK, startTime)

	c.JSON(http.StatusOK, lookup.Response)
}

// SearchIcons relays an icon search and returns the upstream JSON unchanged
// @Summary Search icons
// @Description Relays an icon search to the IconFinder API
// @Tags icons
// @Produce json
// @Param query query string false "search term" default(default)
// @Param count query int false "number of results; missing, non-numeric or non-positive values use 20" default(20)
// @Success 200 {object} object "upstream payload"
// @Failure 500 {string} string "Error fetching icons from IconFinder API."
// @Failure 429 {object} models.ErrorResponse
// @Router /api/icons [get]
func (handlers *Handlers) SearchIcons(c *gin.Context) {
	startTime := time.Now()

	query := c.Query("query")
	if query == "" {
		query = handlers.icons.DefaultQuery()
	}

	count, parseError := strconv.Atoi(c.Query("count"))
	if parseError != nil || count <= 0 {
		count = handlers.icons.DefaultCount()
	}

	summary := map[string]string{"query": query, "count": strconv.Itoa(count)}
	requestLogger := handlers.logger.WithFields(logrus.Fields{
		"service":    config.ServiceIcons,
		"request_id": middleware.GetRequestID(c),
		"query":      query,
		"count":      count,
	})

	payload, err := handlers.icons.SearchIcons(c.Request.Context(), query, count)
	if err != nil {
		requestLogger.WithFields(logrus.Fields{
			"error":      err.Error(),
			"error_type": service.ErrorTypeOf(err).String(),
		}).Error("Failed to fetch icons")

		handlers.publish(c, config.ServiceIcons, summary, outcomeFor(err), http.StatusInternalServerError, startTime)
		c.String(http.StatusInternalServerError, IconFailureText)
		return
	}

	handlers.publish(c, config.ServiceIcons, summary, models.OutcomeSuccess, http.StatusOK, startTime)
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}

// publish records a usage event before the response is written; failures are only logged
func (handlers *Handlers) publish(c *gin.Context, serviceName config.Service, query map[string]string, outcome string, statusCode int, startTime time.Time) {
	event := models.UsageEvent{
		Service:   string(serviceName),
		RequestID: middleware.GetRequestID(c),
		Query:     query,
		Outcome:   outcome,
		Status:    statusCode,
		LatencyMS: time.Since(startTime).Milliseconds(),
		Timestamp: startTime.UTC(),
	}

	if err := handlers.publisher.Publish(context.WithoutCancel(c.Request.Context()), event); err != nil {
		handlers.logger.WithFields(logrus.Fields{
			"service":    serviceName,
			"request_id": event.RequestID,
			"error":      err.Error(),
		}).Warn("Failed to publish usage event")
	}
}

func outcomeFor(err error) string {
	if service.IsUpstreamRejected(err) {
		return models.OutcomeUpstreamError
	}
	return models.OutcomeTransportError
}

// rateLimitMiddleware provides rate limiting using Gin middleware
func (handlers *Handlers) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if !handlers.rateLimiter.Allow(clientIP) {
			handlers.logger.WithFields(logrus.Fields{
				"client_ip":  clientIP,
				"path":       c.Request.URL.Path,
				"request_id": middleware.GetRequestID(c),
			}).Warn("Rate limit exceeded")

			c.Header("X-RateLimit-Limit", strconv.Itoa(handlers.rateLimiter.Configuration.RateLimitRequests))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", strconv.FormatInt(handlers.rateLimiter.ResetAt(clientIP).Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{Error: "Rate limit exceeded"})
			return
		}

		c.Next()
	}
}
