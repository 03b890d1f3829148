package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"market-fanout/src/config"
	"market-fanout/src/logger"
	"market-fanout/src/metrics"
	"market-fanout/src/server"
	"market-fanout/src/upstream"

	"github.com/prometheus/client_golang/prometheus"
)

// -----------------------------------------------------------------------------

func main() {
	// 1. Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	os.Exit(run(*configPath))
}

// run wires the service and returns the process exit code.
func run(configPath string) int {

	// 2. Load config from YAML file
	conf, err := config.NewConfig(configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return 1
	}

	// 3. Setup logger
	appLogger := logger.NewLogger(conf.MConfig, conf.Name)
	defer func() { _ = appLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setupMemoryLimit(appLogger)

	// 4. Setup Components
	markets, err := setupDatabase(ctx, conf.MConfig, appLogger)
	if err != nil {
		return 1
	}
	defer func() {
		if err := markets.Close(); err != nil {
			appLogger.Warning("Closing market store failed: %v", err)
		}
	}()

	resolver := setupExchanges(conf.MConfig, appLogger)
	defer resolver.CloseAll()

	m := metrics.New(prometheus.DefaultRegisterer)
	registry := server.NewClientRegistry(conf.MConfig, m, appLogger)
	mgr := upstream.NewManager(conf.MConfig, resolver, markets, registry, m, appLogger)
	srv := server.NewFastAPIServer(ctx, conf.MConfig, registry, mgr, markets, prometheus.DefaultGatherer, appLogger)

	// 5. Run until SIGINT/SIGTERM
	appLogger.Info("Starting %s with provider %s", conf.Name, resolver.ActiveProvider())
	if err := runServices(ctx, conf.MConfig, srv, mgr, appLogger); err != nil {
		appLogger.Error("Service stopped with error: %v", err)
		return 1
	}
	appLogger.Info("Shutdown complete")
	return 0
}
