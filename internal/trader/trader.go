// Package trader runs the scheduling, reconciliation, and order-lifecycle
// loop over every enabled portfolio.
package trader

import (
	"context"
	"log/slog"
	"time"

	"github.com/gw/tradebot/internal/broker"
	"github.com/gw/tradebot/internal/ledger"
	"github.com/gw/tradebot/internal/strategy"
)

type Trader struct {
	store    *ledger.Store
	registry *strategy.Registry
	interval time.Duration

	// Seams for tests.
	newBroker func(ledger.Broker) (broker.Broker, error)
	now       func() time.Time
}

func New(store *ledger.Store, registry *strategy.Registry, interval time.Duration) *Trader {
	return &Trader{
		store:     store,
		registry:  registry,
		interval:  interval,
		newBroker: broker.New,
		now:       time.Now,
	}
}

// Run polls every enabled portfolio at the configured interval until ctx is
// canceled. Portfolios are processed sequentially, each in its own unit of
// work; nothing a single portfolio does can stop the loop.
func (t *Trader) Run(ctx context.Context) error {
	slog.Info("trader started", "interval", t.interval)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("trader shutting down")
			return ctx.Err()
		case <-ticker.C:
			t.iterate(ctx)
		}
	}
}

func (t *Trader) iterate(ctx context.Context) {
	portfolios, err := t.store.FetchEnabledPortfolios(ctx)
	if err != nil {
		slog.Error("failed to fetch enabled portfolios", "err", err)
		return
	}

	for _, pf := range portfolios {
		if ctx.Err() != nil {
			return
		}
		t.processPortfolio(ctx, pf)
	}
}

func (t *Trader) processPortfolio(ctx context.Context, pf ledger.Portfolio) {
	log := slog.With("portfolio", pf.Name)
	log.Info("looking at portfolio")

	tx, err := t.store.Begin(ctx)
	if err != nil {
		log.Error("failed to open portfolio unit of work", "err", err)
		return
	}

	// Errors are caught at this boundary, so work done before the failure
	// (resolved orders, a persisted open order whose submission failed) is
	// kept for the next cycle to reconcile.
	if err := t.process(ctx, tx, pf); err != nil {
		log.Error("error processing portfolio", "err", err)
	}
	if err := tx.Commit(); err != nil {
		log.Error("failed to commit portfolio unit of work", "err", err)
	}
}

// process runs one portfolio through one poll cycle: resolve open orders,
// gate on the at-most-one-open-order invariant, evaluate the schedule, and
// run the pipeline when due.
func (t *Trader) process(ctx context.Context, tx *ledger.Tx, pf ledger.Portfolio) error {
	log := slog.With("portfolio", pf.Name)

	brokerRec, err := tx.FetchPortfolioBroker(ctx, pf.ID)
	if err != nil {
		return err
	}
	bk, err := t.newBroker(brokerRec)
	if err != nil {
		return err
	}

	openOrders, err := tx.FetchOrdersByStatus(ctx, pf.ID, ledger.OrderOpen)
	if err != nil {
		return err
	}
	if len(openOrders) > 0 && bk != nil {
		log.Info("attempting to automatically resolve open orders")
		resolved, err := bk.ResolveOrders(ctx, pf, openOrders)
		if err != nil {
			return err
		}
		for _, o := range resolved {
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
		}
	}

	// A portfolio may never carry more than one open order, so nothing new
	// is scheduled until resolution has cleared the books.
	openOrders, err = tx.FetchOrdersByStatus(ctx, pf.ID, ledger.OrderOpen)
	if err != nil {
		return err
	}
	if len(openOrders) > 0 {
		log.Info("portfolio has open orders that need to be resolved first, skipping")
		return nil
	}

	due, err := dueNow(pf.Schedule, pf.ScheduleRef(), t.now().UTC())
	if err != nil {
		return err
	}
	if !due {
		log.Debug("nothing to do right now")
		return nil
	}

	log.Info("running the portfolio to look for new orders")
	return t.runPortfolio(ctx, tx, pf, bk)
}
