package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shubham-shewale/tick-hub/cmd/generator/internal/generator"
	"github.com/shubham-shewale/tick-hub/pkg/config"
)

var basePrices = map[string]float64{
	"AAPL": 150.0, "MSFT": 300.0, "GOOG": 2800.0, "TSLA": 700.0, "AMZN": 3400.0,
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	feed := generator.NewFeedServer(logger, cfg.Upstream.Token)
	gen := generator.NewStockGenerator(
		logger,
		feed,
		cfg.Upstream.Symbols,
		basePrices,
		generator.RealRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))},
		generator.RealClock{},
		cfg.Generator.MaxBatch,
		cfg.Generator.Interval,
	)

	srv := &http.Server{Addr: cfg.Generator.Port, Handler: feed}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		gen.Run(gctx)
		return nil
	})
	g.Go(func() error { return feed.Run(gctx, cfg.Generator.PingInterval) })
	g.Go(func() error {
		logger.Info("Feed Started", zap.String("port", cfg.Generator.Port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received")
		shutdownCtx, release := context.WithTimeout(context.Background(), cfg.App.ShutdownGrace)
		defer release()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Exited with error", zap.Error(err))
	}
	logger.Info("Generator exited cleanly")
}
