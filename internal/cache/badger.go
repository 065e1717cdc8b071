package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/sirupsen/logrus"

	"expense-tracker-proxy/internal/models"
)

// BadgerCache persists rate tables in BadgerDB using native entry TTLs
type BadgerCache struct {
	db     *badger.DB
	ttl    time.Duration
	logger *logrus.Logger
}

// OpenBadgerCache opens (or creates) a badger store under dir
func OpenBadgerCache(dir string, ttl time.Duration, logger *logrus.Logger) (*BadgerCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return NewBadgerCache(badger.DefaultOptions(dir), ttl, logger)
}

// NewBadgerCache opens a badger store with the given options
func NewBadgerCache(options badger.Options, ttl time.Duration, logger *logrus.Logger) (*BadgerCache, error) {
	options.Logger = nil

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open rates cache: %w", err)
	}

	return &BadgerCache{db: db, ttl: ttl, logger: logger}, nil
}

// Get returns the stored table for baseCurrency. Badger hides expired keys.
func (c *BadgerCache) Get(baseCurrency string) (models.RatesResponse, bool) {
	var rates models.RatesResponse

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cacheKey(baseCurrency)))
		if err != nil {
			return err
		}

		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &rates)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.RatesResponse{}, false
	}
	if err != nil {
		c.logger.WithError(err).WithField("base", baseCurrency).Warn("Failed to read rates cache")
		return models.RatesResponse{}, false
	}

	return rates, true
}

// Set stores a table for baseCurrency with the cache TTL
func (c *BadgerCache) Set(baseCurrency string, rates models.RatesResponse) {
	data, err := json.Marshal(rates)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to encode rates for cache")
		return
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(cacheKey(baseCurrency)), data).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		c.logger.WithError(err).WithField("base", baseCurrency).Warn("Failed to write rates cache")
	}
}

// Close closes the underlying database
func (c *BadgerCache) Close() error {
	return c.db.Close()
}
