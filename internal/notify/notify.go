// Package notify delivers new runs and order updates to operators and
// flips the corresponding notified flags in the ledger.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gw/tradebot/internal/ledger"
)

const errorExcerptLimit = 1000

type Notifier struct {
	store    *ledger.Store
	sender   Sender
	interval time.Duration
}

func New(store *ledger.Store, sender Sender, interval time.Duration) *Notifier {
	return &Notifier{store: store, sender: sender, interval: interval}
}

// Run polls for un-notified runs and orders until ctx is canceled.
func (n *Notifier) Run(ctx context.Context) error {
	slog.Info("notifier started", "interval", n.interval)

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("notifier shutting down")
			return ctx.Err()
		case <-ticker.C:
			n.iterate(ctx)
		}
	}
}

func (n *Notifier) iterate(ctx context.Context) {
	portfolios, err := n.store.FetchEnabledPortfolios(ctx)
	if err != nil {
		slog.Error("failed to fetch enabled portfolios", "err", err)
		return
	}

	for _, pf := range portfolios {
		if ctx.Err() != nil {
			return
		}
		if err := n.notifyPortfolio(ctx, pf); err != nil {
			slog.Error("error notifying for portfolio", "portfolio", pf.Name, "err", err)
		}
	}
}

func (n *Notifier) notifyPortfolio(ctx context.Context, pf ledger.Portfolio) error {
	runs, err := n.store.FetchRuns(ctx, pf.ID)
	if err != nil {
		return err
	}
	var newRuns []ledger.PortfolioRun
	for _, r := range runs {
		if !r.Notified {
			newRuns = append(newRuns, r)
		}
	}
	if len(newRuns) > 0 {
		descs := make([]string, len(newRuns))
		for i, r := range newRuns {
			descs[i] = runSummary(r)
		}
		msg := "```\n" + portfolioSummary(pf) + "\n\nNew Runs:\n- " + strings.Join(descs, "\n- ") + "```"
		if err := n.sender.Send(ctx, msg); err != nil {
			return err
		}
		for _, r := range newRuns {
			if err := n.store.UpdateRun(ctx, r.WithNotified(true)); err != nil {
				return err
			}
		}
	}

	// Unfilled orders are deliberately not reported; open and filled are.
	var newOrders []ledger.PortfolioOrder
	for _, status := range []string{ledger.OrderOpen, ledger.OrderFilled} {
		orders, err := n.store.FetchOrdersByStatus(ctx, pf.ID, status)
		if err != nil {
			return err
		}
		for _, o := range orders {
			if !o.Notified {
				newOrders = append(newOrders, o)
			}
		}
	}
	if len(newOrders) > 0 {
		descs := make([]string, len(newOrders))
		for i, o := range newOrders {
			descs[i] = orderSummary(o)
		}
		msg := "```\n" + portfolioSummary(pf) + "\n\nNew Orders:\n- " + strings.Join(descs, "\n- ") + "```"
		if err := n.sender.Send(ctx, msg); err != nil {
			return err
		}
		for _, o := range newOrders {
			if err := n.store.UpdateOrder(ctx, o.WithNotified(true)); err != nil {
				return err
			}
		}
	}

	return nil
}

func portfolioSummary(p ledger.Portfolio) string {
	lastRun := "never"
	if p.LastRunTimestamp.Valid {
		lastRun = p.LastRunTimestamp.Time.Format(time.RFC3339)
	}
	return fmt.Sprintf("ID: %d\nName: %s\nEnabled: %t\nModule: %s\nSchedule: %s\nStart: %s\nLast Run: %s\n",
		p.ID, p.Name, p.Enabled, p.Module, p.Schedule,
		p.StartTimestamp.Format(time.RFC3339), lastRun)
}

func runSummary(r ledger.PortfolioRun) string {
	s := fmt.Sprintf("Run ID: %d - %s", r.ID, r.Status)
	if r.Error.Valid && r.Error.String != "" {
		excerpt := r.Error.String
		if len(excerpt) > errorExcerptLimit {
			excerpt = excerpt[:errorExcerptLimit]
		}
		s += "\n" + excerpt
	}
	return s
}

func orderSummary(o ledger.PortfolioOrder) string {
	s := fmt.Sprintf("Order ID: %d - %s", o.ID, o.Summary())
	switch o.Status {
	case ledger.OrderFilled:
		s += fmt.Sprintf(" (Filled %s @ %s)", o.FillQuantity.Decimal.String(), o.FillPrice.Decimal.String())
	case ledger.OrderUnfilled:
		s += " (Not Filled)"
	}
	return s
}
