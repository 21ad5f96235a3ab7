package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/prasetya/stockguard/internal/breaker"
	"github.com/prasetya/stockguard/internal/config"
	"github.com/prasetya/stockguard/internal/errs"
	"github.com/prasetya/stockguard/internal/events"
	"github.com/prasetya/stockguard/internal/health"
	"github.com/prasetya/stockguard/internal/httpx"
	kafkax "github.com/prasetya/stockguard/internal/kafka"
	"github.com/prasetya/stockguard/internal/orders"
	"github.com/prasetya/stockguard/internal/postgres"
	"github.com/prasetya/stockguard/internal/redisx"
	"github.com/prasetya/stockguard/internal/reservation"
	"github.com/prasetya/stockguard/internal/stock"
	"github.com/prasetya/stockguard/internal/tx"
	"github.com/prasetya/stockguard/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	stockProd := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicStock, 1024, log)
	orderProd := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicOrders, 1024, log)
	alertProd := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicAlerts, 256, log)
	stockProd.Start(ctx)
	orderProd.Start(ctx)
	alertProd.Start(ctx)
	pub := &events.Emitter{Stock: stockProd, Orders: orderProd, Alerts: alertProd, Service: cfg.ServiceName}

	bcfg := breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		CoolDown:         cfg.BreakerCoolDown,
		CallTimeout:      cfg.BreakerCallTimeout,
		Expected:         businessError,
	}
	breakers := breaker.NewManager()
	breakers.Register(breaker.ClassStock, bcfg)
	breakers.Register(breaker.ClassOrder, bcfg)
	breakers.Register(breaker.ClassPayment, bcfg)
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

	router := httpx.NewRouter()
	(&httpx.CheckoutHandler{
		Resv:     resv,
		Orders:   orderStore,
		Sessions: resvStore,
		Redis:    rdb,
		Breakers: breakers,
		Log:      log,
	}).Register(router)
	(&httpx.WebhookHandler{Proc: proc}).Register(router)
	(&httpx.HealthHandler{Reporter: &health.Reporter{
		Stock:        stockStore,
		Breakers:     breakers,
		Redis:        rdb,
		LowThreshold: cfg.LowStockThreshold,
	}}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
	stockProd.WaitClosed()
	orderProd.WaitClosed()
	alertProd.WaitClosed()
}

// businessError keeps expected domain outcomes from tripping a breaker.
func businessError(err error) bool {
	return errors.Is(err, stock.ErrInsufficientStock) ||
		errors.Is(err, stock.ErrVariantNotFound) ||
		errors.Is(err, orders.ErrNotFound) ||
		errors.Is(err, orders.ErrStatusConflict) ||
		errors.Is(err, reservation.ErrNotFound) ||
		errors.Is(err, reservation.ErrStatusConflict) ||
		errs.IsKind(err, errs.KindValidation)
}
