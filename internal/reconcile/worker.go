package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/prasetya/stockguard/internal/breaker"
	"github.com/prasetya/stockguard/internal/orders"
	"github.com/prasetya/stockguard/internal/payment"
	"github.com/prasetya/stockguard/internal/reservation"
	"github.com/prasetya/stockguard/internal/webhook"
)

type Config struct {
	ReservationInterval time.Duration // default 2m
	DraftInterval       time.Duration // default 15m
	DraftMaxAge         time.Duration // default 30m
	AbandonMaxAge       time.Duration // default 24h; second, longer cancellation window
	BatchSize           int           // default 100
}

func (c Config) withDefaults() Config {
	if c.ReservationInterval <= 0 {
		c.ReservationInterval = 2 * time.Minute
	}
	if c.DraftInterval <= 0 {
		c.DraftInterval = 15 * time.Minute
	}
	if c.DraftMaxAge <= 0 {
		c.DraftMaxAge = 30 * time.Minute
	}
	if c.AbandonMaxAge <= 0 {
		c.AbandonMaxAge = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Worker is the safety net behind the webhook path: it expires stale holds
// and settles draft orders the webhook never finalized.
type Worker struct {
	cfg        Config
	resv       *reservation.Manager
	resvStore  reservation.Store
	orders     orders.Store
	proc       *webhook.Processor
	gateway    payment.Gateway
	payBreaker *breaker.Breaker // nil = unguarded
	log        zerolog.Logger
	now        func() time.Time
}

func NewWorker(cfg Config, resv *reservation.Manager, resvStore reservation.Store, ord orders.Store,
	proc *webhook.Processor, gw payment.Gateway, payBreaker *breaker.Breaker, log zerolog.Logger) *Worker {
	return &Worker{
		cfg:        cfg.withDefaults(),
		resv:       resv,
		resvStore:  resvStore,
		orders:     ord,
		proc:       proc,
		gateway:    gw,
		payBreaker: payBreaker,
		log:        log.With().Str("component", "reconcile").Logger(),
		now:        time.Now,
	}
}

// Run drives both sweep loops until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.loop(ctx, w.cfg.ReservationInterval, w.sweepReservationsLogged) })
	g.Go(func() error { return w.loop(ctx, w.cfg.DraftInterval, w.sweepDraftsLogged) })
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, interval time.Duration, sweep func(context.Context)) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			sweep(ctx)
		}
	}
}

func (w *Worker) sweepReservationsLogged(ctx context.Context) {
	n, err := w.SweepReservations(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("reservation sweep failed")
		return
	}
	if n > 0 {
		w.log.Info().Int("expired", n).Msg("reservation sweep done")
	}
}

func (w *Worker) sweepDraftsLogged(ctx context.Context) {
	n, err := w.SweepDraftOrders(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("draft order sweep failed")
		return
	}
	if n > 0 {
		w.log.Info().Int("settled", n).Msg("draft order sweep done")
	}
}

// SweepReservations expires active reservations past their expiry and
// returns their held stock. The conditional status transition inside Expire
// makes a repeated sweep of the same reservation a no-op.
func (w *Worker) SweepReservations(ctx context.Context) (int, error) {
	stale, err := w.resvStore.ListExpired(ctx, w.now().UTC(), w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range stale {
		r := &stale[i]
		if err := w.resv.Expire(ctx, r.ID); err != nil {
			w.log.Error().Err(err).Str("reservation_id", r.ID).Msg("expire failed")
			continue
		}
		expired++
	}
	return expired, nil
}

// SweepDraftOrders asks the gateway for the authoritative status of stale
// drafts. Paid drafts are confirmed, failed ones cancelled. A draft the
// gateway still reports pending — or whose status is unknown or unreachable —
// is left alone: the engine never guesses about money. Only once a
// still-pending draft crosses the long abandonment window is it cancelled.
func (w *Worker) SweepDraftOrders(ctx context.Context) (int, error) {
	cutoff := w.now().UTC().Add(-w.cfg.DraftMaxAge)
	drafts, err := w.orders.ListStaleDrafts(ctx, cutoff, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range drafts {
		o := &drafts[i]
		abandoned := w.now().UTC().Sub(o.CreatedAt) > w.cfg.AbandonMaxAge

		if o.PaymentRef == "" {
			// Never reached the gateway; nothing to ask. Cancel only past
			// the abandonment window.
			if abandoned {
				w.proc.CancelFailedOrder(ctx, o, "", "abandoned")
				settled++
			}
			continue
		}

		status, err := w.queryStatus(ctx, o.PaymentRef)
		if err != nil {
			w.log.Warn().Err(err).Str("order_id", o.ID).Msg("gateway status unavailable, leaving draft untouched")
			continue
		}

		switch status {
		case payment.StatusPaid:
			w.proc.ConfirmPaidOrder(ctx, o, "")
			settled++
		case payment.StatusFailed:
			w.proc.CancelFailedOrder(ctx, o, "", "payment_failed")
			settled++
		case payment.StatusPending:
			if abandoned {
				w.proc.CancelFailedOrder(ctx, o, "", "abandoned")
				settled++
			}
		default:
			// unknown: ambiguous, do nothing
		}
	}
	return settled, nil
}

func (w *Worker) queryStatus(ctx context.Context, paymentRef string) (payment.Status, error) {
	if w.payBreaker == nil {
		return w.gateway.QueryStatus(ctx, paymentRef)
	}
	var status payment.Status
	err := w.payBreaker.Execute(ctx, func(ctx context.Context) error {
		s, err := w.gateway.QueryStatus(ctx, paymentRef)
		status = s
		return err
	})
	return status, err
}
