package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/prasetya/stockguard/internal/breaker"
	"github.com/prasetya/stockguard/internal/config"
	"github.com/prasetya/stockguard/internal/errs"
	"github.com/prasetya/stockguard/internal/events"
	kafkax "github.com/prasetya/stockguard/internal/kafka"
	"github.com/prasetya/stockguard/internal/orders"
	"github.com/prasetya/stockguard/internal/payment"
	"github.com/prasetya/stockguard/internal/postgres"
	"github.com/prasetya/stockguard/internal/reconcile"
	"github.com/prasetya/stockguard/internal/redisx"
	"github.com/prasetya/stockguard/internal/reservation"
	"github.com/prasetya/stockguard/internal/stock"
	"github.com/prasetya/stockguard/internal/tx"
	"github.com/prasetya/stockguard/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "stockguard-sweeper").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	stockProd := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicStock, 1024, log)
	orderProd := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicOrders, 1024, log)
	alertProd := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicAlerts, 256, log)
	stockProd.Start(ctx)
	orderProd.Start(ctx)
	alertProd.Start(ctx)
	pub := &events.Emitter{Stock: stockProd, Orders: orderProd, Alerts: alertProd, Service: "stockguard-sweeper"}

	bcfg := breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		CoolDown:         cfg.BreakerCoolDown,
		CallTimeout:      cfg.BreakerCallTimeout,
		Expected:         businessError,
	}
	breakers := breaker.NewManager()
	payBreaker := breakers.Register(breaker.ClassPayment, bcfg)
	dbBreaker := breakers.Register(breaker.ClassDatabase, bcfg)

	txr := tx.Guarded(&postgres.Runner{DB: db}, dbBreaker)
	stockStore := &postgres.StockStore{DB: db}
	resvStore := &postgres.ReservationStore{DB: db}
	orderStore := &postgres.OrderStore{DB: db}
	keyStore := &postgres.KeyStore{DB: db}

	resv := reservation.NewManager(stockStore, resvStore, txr, cfg.ReservationTTL, pub, log)
	proc := webhook.NewProcessor(webhook.ProcessorConfig{
		Secret:           []byte(cfg.WebhookSecret),
		KeyTTL:           cfg.IdempotencyTTL,
		Keys:             keyStore,
		Orders:           orderStore,
		Stock:            stockStore,
		Reservations:     resv,
		ReservationStore: resvStore,
		Tx:               txr,
		Redis:            rdb,
		Events:           pub,
		Logger:           log,
	})

	gw := payment.NewHTTPGateway(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout, log)
	worker := reconcile.NewWorker(reconcile.Config{
		ReservationInterval: cfg.ReservationSweepInterval,
		DraftInterval:       cfg.DraftSweepInterval,
		DraftMaxAge:         cfg.DraftMaxAge,
		AbandonMaxAge:       cfg.AbandonMaxAge,
		BatchSize:           cfg.SweepBatchSize,
	}, resv, resvStore, orderStore, proc, gw, payBreaker, log)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info().Msg("shutting down")
		cancel()
	}()

	log.Info().Msg("sweeper running")
	if err := worker.Run(ctx); err != nil {
		log.Error().Err(err).Msg("sweeper stopped")
	}
	stockProd.WaitClosed()
	orderProd.WaitClosed()
	alertProd.WaitClosed()
}

func businessError(err error) bool {
	return errors.Is(err, stock.ErrInsufficientStock) ||
		errors.Is(err, stock.ErrVariantNotFound) ||
		errors.Is(err, orders.ErrNotFound) ||
		errors.Is(err, orders.ErrStatusConflict) ||
		errors.Is(err, reservation.ErrNotFound) ||
		errors.Is(err, reservation.ErrStatusConflict) ||
		errs.IsKind(err, errs.KindValidation)
}
