package main

import (
	"context"
	"runtime/debug"
	"time"

	"market-fanout/src/exchange"
	"market-fanout/src/exchange/binance"
	"market-fanout/src/exchange/bybit"
	"market-fanout/src/exchange/simulated"
	"market-fanout/src/helpers"
	"market-fanout/src/interfaces"
	"market-fanout/src/logger"
	"market-fanout/src/models"
	"market-fanout/src/network"
	"market-fanout/src/storage"
)

const (
	dbConnectAttempts = 5
	dbConnectDelay    = 500 * time.Millisecond
)

// -----------------------------------------------------------------------------

// setupMemoryLimit sets the runtime soft memory limit from the host or
// container memory.
func setupMemoryLimit(appLogger *logger.Logger) {
	limitMB, ok := helpers.GetRecommendedMemoryLimit()
	if !ok {
		appLogger.Warning("Could not determine available memory. Defaulting to %d MB.", limitMB)
	}
	debug.SetMemoryLimit(int64(limitMB) << 20)
	appLogger.Info("Memory Limit set to: %d MB", limitMB)
}

// -----------------------------------------------------------------------------

// setupDatabase opens the configured market store behind the roster cache and
// runs its migrations, retrying while the database comes up.
func setupDatabase(ctx context.Context, config *models.MConfig, appLogger *logger.Logger) (*storage.RosterCache, error) {
	store, err := storage.NewMarketStore(config, appLogger)
	if err != nil {
		appLogger.Error("Failed to init db: %v", err)
		return nil, err
	}

	roster := storage.NewRosterCache(store, storage.NewRedisClient(config.Cache), config.Cache.TTL(), appLogger)
	err = helpers.RetryWithBackoff(ctx, dbConnectAttempts, dbConnectDelay, func() error {
		if err := roster.Initialize(ctx); err != nil {
			appLogger.Warning("Database not ready: %v", err)
			return err
		}
		return nil
	})
	if err != nil {
		appLogger.Error("Failed to migrate db: %v", err)
		_ = roster.Close()
		return nil, err
	}
	return roster, nil
}

// -----------------------------------------------------------------------------

// setupExchanges registers one factory per supported provider. REST providers
// each get their own network manager so rate limits stay per venue.
func setupExchanges(config *models.MConfig, appLogger *logger.Logger) *exchange.Resolver {
	resolver := exchange.NewResolver(config, appLogger)

	resolver.Register("binance", func(pc models.MProviderConfig) (interfaces.IExchange, error) {
		return binance.New(pc, setupNetwork(config, pc, appLogger)), nil
	})
	resolver.Register("bybit", func(pc models.MProviderConfig) (interfaces.IExchange, error) {
		return bybit.New(pc, setupNetwork(config, pc, appLogger)), nil
	})
	resolver.Register("simulated", func(models.MProviderConfig) (interfaces.IExchange, error) {
		return simulated.New(0), nil
	})

	return resolver
}

// setupNetwork initializes the network manager of one provider
func setupNetwork(config *models.MConfig, pc models.MProviderConfig, appLogger *logger.Logger) interfaces.INetworkManager {
	return network.NewAsyncNetworkManager(config, pc.RequestsPerSecond, appLogger.Named("NetworkManager."+pc.Name))
}
