package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	_ "expense-tracker-proxy/docs"
	"expense-tracker-proxy/internal/api"
	"expense-tracker-proxy/internal/cache"
	"expense-tracker-proxy/internal/config"
	"expense-tracker-proxy/internal/events"
	"expense-tracker-proxy/internal/logger"
	"expense-tracker-proxy/internal/platform"
	"expense-tracker-proxy/internal/ratelimit"
	"expense-tracker-proxy/internal/service"
)

const shutdownTimeout = 30 * time.Second

// run wires the enabled services and serves until a shutdown signal arrives
func run(parent context.Context, cfg *config.Config, services []config.Service) error {
	if parent == nil {
		parent = context.Background()
	}

	log := logger.New(cfg.LogLevel)

	handlerConfig := api.HandlerConfig{
		Logger:         log,
		Version:        version,
		GinMode:        cfg.GinMode,
		SwaggerEnabled: cfg.SwaggerEnabled,
		TrustedProxies: cfg.TrustedProxies,
	}

	var ratesCache cache.RatesCache
	for _, enabled := range services {
		switch enabled {
		case config.ServiceExchangeRate:
			var err error
			ratesCache, err = cache.New(cfg, log)
			if err != nil {
				return fmt.Errorf("failed to open rates cache: %w", err)
			}
			handlerConfig.ExchangeRates = service.NewExchangeRateService(cfg.ExchangeRate, ratesCache, log)
		case config.ServiceIcons:
			handlerConfig.Icons = service.NewIconService(cfg.Icons, log)
		}
	}
	if ratesCache != nil {
		defer func() {
			if err := ratesCache.Close(); err != nil {
				log.WithError(err).Warn("Failed to close rates cache")
			}
		}()
	}

	publisher := events.New(cfg, log)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.WithError(err).Warn("Failed to close usage event publisher")
		}
	}()
	handlerConfig.Publisher = publisher

	rateLimiter := ratelimit.NewLimiter(cfg, log)
	defer rateLimiter.Stop()
	handlerConfig.RateLimiter = rateLimiter

	handlers := api.NewHandlers(handlerConfig)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handlers.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	shutdownCtx, stop := platform.NewShutdownContext(parent)
	defer stop()

	group, groupCtx := errgroup.WithContext(shutdownCtx)

	group.Go(func() error {
		log.WithFields(logrus.Fields{
			"port":     cfg.Port,
			"services": handlers.Services(),
			"version":  version,
		}).Info("Starting proxy server")
		if cfg.SwaggerEnabled {
			log.Infof("Swagger documentation available at: http://localhost:%s/swagger/index.html", cfg.Port)
		}

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("Shutting down server...")

		// Give outstanding requests time to complete
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		log.WithError(err).Error("Server stopped with error")
		return err
	}

	log.Info("Server exited")
	return nil
}
