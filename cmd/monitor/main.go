package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/prasetya/stockguard/internal/config"
	"github.com/prasetya/stockguard/internal/events"
	"github.com/prasetya/stockguard/internal/health"
	kafkax "github.com/prasetya/stockguard/internal/kafka"
	"github.com/prasetya/stockguard/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "stockguard-monitor").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	sink := &health.AlertSink{Redis: rdb, Log: log}

	alerts := kafkax.NewConsumer(cfg.KafkaBrokers, "stockguard-monitor", events.TopicAlerts, 2, log)
	orders := kafkax.NewConsumer(cfg.KafkaBrokers, "stockguard-monitor", events.TopicOrders, 2, log)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info().Msg("shutting down")
		cancel()
	}()

	log.Info().Msg("monitor running")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return alerts.Start(ctx, sink.HandleMessage) })
	g.Go(func() error { return orders.Start(ctx, sink.HandleMessage) })
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("monitor stopped")
	}
}
