package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/enrich"
	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/mirror"
	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/state"
	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/upstream"
	"github.com/shubham-shewale/tick-hub/pkg/config"
)

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

	store := state.NewStore()
	wsHub := hub.NewHub(hub.Config{
		QueueSize:     cfg.Hub.QueueSize,
		OverflowLimit: cfg.Hub.OverflowLimit,
		MaxBatch:      cfg.Hub.MaxBatch,
		StallTimeout:  cfg.Hub.StallTimeout,
	}, logger)

	emitters := []enrich.Emitter{wsHub}

	var kafkaMirror *mirror.Mirror
	if cfg.Kafka.Enabled {
		tc := mirror.NewTopicCreator(logger, mirror.BrokerDialer(nil), 200*time.Millisecond)
		if err := tc.Create(context.Background(), cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
			// the writer reports real delivery failures; startup continues
			logger.Warn("Kafka topic not confirmed", zap.Error(err))
		}

		writer := &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topic,
			Balancer:     &kafka.Hash{}, // same symbol -> same partition
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
		}
		kafkaMirror = mirror.New("kafka", mirror.NewKafkaPublisher(writer), logger, cfg.Enrich.QueueSize, 100)
		emitters = append(emitters, kafkaMirror)
	}

	pipeline := enrich.NewPipeline(store, logger, cfg.Enrich.NumWorkers, cfg.Enrich.QueueSize, emitters...)

	feed := upstream.NewClient(upstream.Config{
		URL:              cfg.Upstream.URL,
		Token:            cfg.Upstream.Token,
		Symbols:          cfg.Upstream.Symbols,
		HandshakeTimeout: cfg.Upstream.HandshakeTimeout,
		ReadTimeout:      cfg.Upstream.ReadTimeout,
		WriteTimeout:     cfg.Gateway.WriteWait,
		InitialBackoff:   cfg.Upstream.InitialBackoff,
		MaxBackoff:       cfg.Upstream.MaxBackoff,
	}, pipeline, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.WSHandler(wsHub, logger, gateway.Options{
		WriteWait:  cfg.Gateway.WriteWait,
		PongWait:   cfg.Gateway.PongWait,
		PingPeriod: cfg.Gateway.PingPeriod,
	}))
	var mirrors []gateway.MirrorStatus
	if kafkaMirror != nil {
		mirrors = append(mirrors, kafkaMirror)
	}
	mux.HandleFunc("/healthz", gateway.HealthHandler(wsHub, store, feed, mirrors...))

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return pipeline.Run(gctx) })
	g.Go(func() error { return feed.Run(gctx) })
	if kafkaMirror != nil {
		g.Go(func() error { return kafkaMirror.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("Server Started", zap.String("port", cfg.App.Port), zap.Strings("symbols", cfg.Upstream.Symbols))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("Shutdown signal received")
	case <-gctx.Done():
		logger.Error("Component failed, shutting down")
	}

	shutdownCtx, release := context.WithTimeout(context.Background(), cfg.App.ShutdownGrace)
	defer release()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	cancel()
	if err := wsHub.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Hub shutdown incomplete", zap.Error(err))
	}
	if err := g.Wait(); err != nil {
		logger.Error("Exited with error", zap.Error(err))
	}

	logger.Info("Shutdown Complete")
}
