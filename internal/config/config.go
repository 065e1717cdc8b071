package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Service names a relay that can be enabled in a process
type Service string

const (
	ServiceExchangeRate Service = "exchange-rate"
	ServiceIcons        Service = "icons"
)

// ExchangeRateUpstream configures the currency conversion API
type ExchangeRateUpstream struct {
	BaseURL             string
	APIKey              string
	Timeout             time.Duration
	DefaultBaseCurrency string
}

// IconUpstream configures the icon search API
type IconUpstream struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	DefaultQuery string
	DefaultCount int
}

// Config holds all configuration for the application
type Config struct {
	Port     string
	LogLevel string
	GinMode  string

	ExchangeRate ExchangeRateUpstream
	Icons        IconUpstream

	// Rates cache
	RatesCacheTTL time.Duration
	RatesCacheDir string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitBurst    int

	// Usage events
	KafkaBrokers []string
	KafkaTopic   string

	SwaggerEnabled bool

	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers are believed.
	// Empty trusts none, so client IPs come from the connection.
	TrustedProxies []string
}

// Load loads configuration from environment variables. When envFile is empty a
// .env file in the working directory is loaded if it exists.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	return &Config{
		Port:     getEnv("PORT", DefaultPort),
		LogLevel: getEnv("LOG_LEVEL", DefaultLogLevel),
		GinMode:  getEnv("GIN_MODE", DefaultGinMode),

		ExchangeRate: ExchangeRateUpstream{
			BaseURL:             strings.TrimRight(getEnv("EXCHANGE_RATE_API_BASE_URL", DefaultExchangeRateBaseURL), "/"),
			APIKey:              getEnv("EXCHANGE_RATE_API_KEY", ""),
			Timeout:             getEnvDuration("EXCHANGE_RATE_API_TIMEOUT", DefaultExchangeRateTimeout),
			DefaultBaseCurrency: getEnv("DEFAULT_BASE_CURRENCY", DefaultBaseCurrency),
		},
		Icons: IconUpstream{
			BaseURL:      getEnv("ICONFINDER_API_BASE_URL", DefaultIconFinderBaseURL),
			Token:        getEnv("ICONFINDER_API_TOKEN", ""),
			Timeout:      getEnvDuration("ICONFINDER_API_TIMEOUT", DefaultIconFinderTimeout),
			DefaultQuery: DefaultIconQuery,
			DefaultCount: DefaultIconCount,
		},

		RatesCacheTTL: getEnvDuration("RATES_CACHE_TTL", DefaultRatesCacheTTL),
		RatesCacheDir: getEnv("RATES_CACHE_DIR", ""),

		RateLimitEnabled:  getEnvBool("RATE_LIMIT_ENABLED", DefaultRateLimitEnabled),
		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", DefaultRateLimitRequests),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", DefaultRateLimitWindow),
		RateLimitBurst:    getEnvInt("RATE_LIMIT_BURST", DefaultRateLimitBurst),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", DefaultKafkaTopic),

		SwaggerEnabled: getEnvBool("SWAGGER_ENABLED", false),

		TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),
	}, nil
}

// Validate checks that everything the enabled services need is present
func (c *Config) Validate(services ...Service) error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if len(services) == 0 {
		return fmt.Errorf("at least one service must be enabled")
	}

	for _, service := range services {
		switch service {
		case ServiceExchangeRate:
			if c.ExchangeRate.APIKey == "" {
				return fmt.Errorf("EXCHANGE_RATE_API_KEY is required for the %s service", service)
			}
			if c.ExchangeRate.BaseURL == "" {
				return fmt.Errorf("EXCHANGE_RATE_API_BASE_URL must not be empty")
			}
		case ServiceIcons:
			if c.Icons.Token == "" {
				return fmt.Errorf("ICONFINDER_API_TOKEN is required for the %s service", service)
			}
			if c.Icons.BaseURL == "" {
				return fmt.Errorf("ICONFINDER_API_BASE_URL must not be empty")
			}
		default:
			return fmt.Errorf("unknown service: %s", service)
		}
	}

	for _, proxy := range c.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid TRUSTED_PROXIES entry: %s", proxy)
			}
		}
	}

	if c.RateLimitEnabled && (c.RateLimitBurst <= 0 || c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0) {
		return fmt.Errorf("rate limit requests, window and burst must be positive when rate limiting is enabled")
	}

	return nil
}

// KafkaEnabled reports whether usage events should be published
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("30s") or a bare number of seconds
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	items := []string{}
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
