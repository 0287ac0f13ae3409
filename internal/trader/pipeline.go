package trader

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gw/tradebot/internal/broker"
	"github.com/gw/tradebot/internal/ledger"
	"github.com/gw/tradebot/internal/strategy"
)

// runPortfolio executes one scheduled evaluation: reconcile against the
// broker, run the strategy, record the run, and turn at most one candidate
// order row into a persisted open order.
func (t *Trader) runPortfolio(ctx context.Context, tx *ledger.Tx, pf ledger.Portfolio, bk broker.Broker) error {
	log := slog.With("portfolio", pf.Name)

	log.Info("fetching available cash")
	availableCash, err := tx.FetchAvailableCash(ctx, pf.ID)
	if err != nil {
		return err
	}
	log.Info("fetching positions")
	positions, err := tx.FetchPositions(ctx, pf.ID)
	if err != nil {
		return err
	}

	if bk != nil {
		log.Info("verifying broker positions match ours")
		brokerPositions, err := bk.Positions(ctx, pf)
		if err != nil {
			return err
		}
		if !positionsMatch(positions, brokerPositions) {
			log.Error("positions do not match, skipping",
				"ours", positionsString(positions),
				"broker", positionsString(brokerPositions))
			return nil
		}
	}

	strat, err := t.registry.Load(pf.Module)
	if err != nil {
		return err
	}

	open, err := strat.IsMarketOpen(ctx)
	if err != nil {
		return err
	}
	if !open {
		log.Info("outside market hours for this portfolio, skipping")
		return nil
	}

	log.Info("running portfolio strategy")
	params := strategy.Params{
		Live:          true,
		InitCash:      availableCash,
		InitPositions: positions,
	}

	var backtest *strategy.Backtest
	status := ledger.RunSucceeded
	var runErr sql.NullString

	ok, err := strat.CanTrade(ctx, params)
	if err == nil {
		if !ok {
			log.Info("unable to trade the portfolio right now, skipping")
			return nil
		}
		backtest, err = strat.CreatePortfolio(ctx, params)
	}
	if err != nil {
		log.Error("error running portfolio strategy", "err", err)
		status = ledger.RunFailed
		runErr = sql.NullString{String: err.Error(), Valid: true}
	}

	now := t.now().UTC()

	runID, err := tx.InsertRun(ctx, ledger.PortfolioRun{
		PortfolioID: pf.ID,
		Status:      status,
		Timestamp:   now,
		Error:       runErr,
	})
	if err != nil {
		return err
	}

	// A failed run is recorded but does not advance the schedule.
	if status == ledger.RunFailed {
		return nil
	}

	log.Info("updating last run time for portfolio")
	if err := tx.UpdatePortfolio(ctx, pf.WithLastRun(now)); err != nil {
		return err
	}

	rows := backtest.Orders
	if len(rows) == 0 {
		log.Info("no orders to create, done")
		return nil
	}

	// One new order per firing: sells sort before buys, the strategy's own
	// row order breaks ties, and only the first row is acted on. Any other
	// simultaneous candidates are discarded, not queued.
	sort.SliceStable(rows, func(i, j int) bool {
		return sideRank(rows[i].Side) < sideRank(rows[j].Side)
	})
	row := rows[0]
	side := strings.ToLower(row.Side)

	order := ledger.PortfolioOrder{
		PortfolioID:     pf.ID,
		RunID:           runID,
		Status:          ledger.OrderOpen,
		Ticker:          strategy.ColumnTicker(row.Column),
		Side:            side,
		CreateTimestamp: now,
		// Manual portfolios have no resolution pass, so their orders are
		// delivered as soon as they exist.
		Notified: bk == nil,
	}
	if side == ledger.SideBuy {
		// Never buy more than the cash on hand.
		notional := decimal.Min(row.Size.Mul(row.Price), availableCash)
		order.Notional = decimal.NullDecimal{Decimal: notional, Valid: true}
	} else {
		order.Quantity = decimal.NullDecimal{Decimal: row.Size, Valid: true}
	}

	log.Info("creating order", "summary", order.Summary())
	orderID, err := tx.InsertOrder(ctx, order)
	if err != nil {
		return err
	}
	order.ID = orderID

	if bk != nil {
		// Submission failures propagate: the order stays persisted open and
		// the next resolution pass reconciles whatever the broker did.
		return bk.SubmitOrders(ctx, pf, []ledger.PortfolioOrder{order})
	}
	return nil
}

func sideRank(side string) int {
	if strings.ToLower(side) == ledger.SideSell {
		return 0
	}
	return 1
}
