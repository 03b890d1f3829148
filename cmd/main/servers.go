package main

import (
	"context"
	"errors"
	"time"

	"market-fanout/src/logger"
	"market-fanout/src/models"
	"market-fanout/src/server"
	"market-fanout/src/upstream"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const shutdownTimeout = 10 * time.Second

// -----------------------------------------------------------------------------

// runServices starts the listeners and the upstream loops and blocks until ctx
// is cancelled or one of them fails, then shuts the server down.
func runServices(
	ctx context.Context,
	config *models.MConfig,
	srv *server.FastAPIServer,
	mgr *upstream.Manager,
	appLogger *logger.Logger,
) error {
	g, gctx := errgroup.WithContext(ctx)

	// 1. FastAPIServer
	g.Go(srv.Start)

	// 2. gRPC health service
	if config.GrpcPort != 0 {
		g.Go(func() error {
			if err := srv.StartGRPC(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
	}

	// 3. Upstream loops
	g.Go(func() error { return mgr.RunFlushLoop(gctx) })
	g.Go(func() error { return mgr.WatchAllTickers(gctx) })
	g.Go(func() error { return mgr.RunHealthCheck(gctx, srv.SetServing) })

	// 4. Shutdown once anything stops
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		mgr.Stop()
		return err
	})

	return g.Wait()
}
