package ratelimit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"expense-tracker-proxy/internal/config"
)

// idleBucketTTL is how long an untouched bucket is kept
const idleBucketTTL = 24 * time.Hour

// Limiter implements a token bucket rate limiter per client IP
type Limiter struct {
	Configuration *config.Config
	logger        *logrus.Logger

	// Map of IP -> token bucket
	clientBuckets map[string]*TokenBucket
	bucketsMutex  sync.Mutex

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// TokenBucket holds the tokens of one client
type TokenBucket struct {
	capacity     int
	tokens       int
	lastRefill   time.Time
	lastSeen     time.Time
	refillRate   int
	refillPeriod time.Duration
	mu           sync.Mutex
}

// NewLimiter creates a limiter and starts its cleanup goroutine
func NewLimiter(configuration *config.Config, logger *logrus.Logger) *Limiter {
	rateLimiter := &Limiter{
		Configuration: configuration,
		logger:        logger,
		clientBuckets: make(map[string]*TokenBucket),
		cleanupTicker: time.NewTicker(5 * time.Minute),
		stopCleanup:   make(chan struct{}),
	}

	go rateLimiter.cleanup()

	return rateLimiter
}

// Allow checks if a request from the given IP is allowed
func (rateLimiter *Limiter) Allow(clientIP string) bool {
	if !rateLimiter.Configuration.RateLimitEnabled {
		return true
	}

	return rateLimiter.bucket(clientIP).Allow(time.Now())
}

// ResetAt returns when a drained client gets its next token
func (rateLimiter *Limiter) ResetAt(clientIP string) time.Time {
	tokenBucket := rateLimiter.bucket(clientIP)
	tokenBucket.mu.Lock()
	defer tokenBucket.mu.Unlock()

	if tokenBucket.refillRate <= 0 {
		return tokenBucket.lastRefill.Add(tokenBucket.refillPeriod)
	}
	return tokenBucket.lastRefill.Add(tokenBucket.refillPeriod / time.Duration(tokenBucket.refillRate))
}

func (rateLimiter *Limiter) bucket(clientIP string) *TokenBucket {
	rateLimiter.bucketsMutex.Lock()
	defer rateLimiter.bucketsMutex.Unlock()

	tokenBucket, bucketExists := rateLimiter.clientBuckets[clientIP]
	if !bucketExists {
		now := time.Now()
		tokenBucket = &TokenBucket{
			capacity:     rateLimiter.Configuration.RateLimitBurst,
			tokens:       rateLimiter.Configuration.RateLimitBurst,
			lastRefill:   now,
			lastSeen:     now,
			refillRate:   rateLimiter.Configuration.RateLimitRequests,
			refillPeriod: rateLimiter.Configuration.RateLimitWindow,
		}
		rateLimiter.clientBuckets[clientIP] = tokenBucket
	}
	return tokenBucket
}

// BucketCount returns the number of tracked clients
func (rateLimiter *Limiter) BucketCount() int {
	rateLimiter.bucketsMutex.Lock()
	defer rateLimiter.bucketsMutex.Unlock()
	return len(rateLimiter.clientBuckets)
}

// cleanup removes idle buckets until Stop is called
func (rateLimiter *Limiter) cleanup() {
	for {
		select {
		case <-rateLimiter.cleanupTicker.C:
			removed := rateLimiter.evictIdle(time.Now(), idleBucketTTL)
			if removed > 0 {
				rateLimiter.logger.Debugf("Evicted %d idle rate limit buckets", removed)
			}
		case <-rateLimiter.stopCleanup:
			rateLimiter.cleanupTicker.Stop()
			return
		}
	}
}

func (rateLimiter *Limiter) evictIdle(now time.Time, idleFor time.Duration) int {
	rateLimiter.bucketsMutex.Lock()
	defer rateLimiter.bucketsMutex.Unlock()

	removed := 0
	for clientIP, tokenBucket := range rateLimiter.clientBuckets {
		tokenBucket.mu.Lock()
		if now.Sub(tokenBucket.lastSeen) > idleFor {
			delete(rateLimiter.clientBuckets, clientIP)
			removed++
		}
		tokenBucket.mu.Unlock()
	}
	return removed
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rateLimiter *Limiter) Stop() {
	rateLimiter.stopOnce.Do(func() {
		close(rateLimiter.stopCleanup)
	})
}

// Allow takes a token if one is available at now
func (tokenBucket *TokenBucket) Allow(now time.Time) bool {
	tokenBucket.mu.Lock()
	defer tokenBucket.mu.Unlock()

	tokenBucket.lastSeen = now

	if now.After(tokenBucket.lastRefill) && tokenBucket.refillPeriod > 0 {
		timeElapsed := now.Sub(tokenBucket.lastRefill)
		tokensToAdd := int(timeElapsed.Seconds() / tokenBucket.refillPeriod.Seconds() * float64(tokenBucket.refillRate))

		if tokensToAdd > 0 {
			tokenBucket.tokens = min(tokenBucket.capacity, tokenBucket.tokens+tokensToAdd)
			tokenBucket.lastRefill = now
		}
	}

	if tokenBucket.tokens > 0 {
		tokenBucket.tokens--
		return true
	}

	return false
}
