package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gw/tradebot/internal/alpaca"
	"github.com/gw/tradebot/internal/ledger"
)

// Alpaca adapts the Alpaca trading API to the Broker capability set.
type Alpaca struct {
	client *alpaca.Client
}

// Positions replays filled and partially filled orders in this portfolio's
// client-order-id namespace, signed by side.
func (a *Alpaca) Positions(ctx context.Context, pf ledger.Portfolio) (map[string]decimal.Decimal, error) {
	orders, err := a.client.AllOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing alpaca orders: %w", err)
	}

	prefix := ClientOrderPrefix(pf)
	positions := make(map[string]decimal.Decimal)
	for _, o := range orders {
		if !strings.HasPrefix(o.ClientOrderID, prefix) {
			continue
		}
		if o.Status != "filled" && o.Status != "partially_filled" {
			continue
		}
		qty, err := decimal.NewFromString(o.FilledQty)
		if err != nil {
			return nil, fmt.Errorf("order %s filled_qty %q: %w", o.ID, o.FilledQty, err)
		}
		switch o.Side {
		case ledger.SideBuy:
			positions[o.Symbol] = positions[o.Symbol].Add(qty)
		case ledger.SideSell:
			positions[o.Symbol] = positions[o.Symbol].Sub(qty)
		}
	}
	return positions, nil
}

func (a *Alpaca) ResolveOrders(ctx context.Context, pf ledger.Portfolio, open []ledger.PortfolioOrder) ([]ledger.PortfolioOrder, error) {
	var resolved []ledger.PortfolioOrder
	for _, o := range open {
		clientOrderID := ClientOrderID(pf, o)
		slog.Info("looking up order on alpaca", "client_order_id", clientOrderID)
		remote, err := a.client.GetOrderByClientID(ctx, clientOrderID)
		if err != nil {
			// A transient lookup failure must never mis-resolve an order;
			// it stays open until a lookup succeeds.
			slog.Error("alpaca order lookup failed", "client_order_id", clientOrderID, "err", err)
			continue
		}
		if !remote.Terminal() {
			continue
		}

		r, err := classify(o, remote)
		if err != nil {
			slog.Error("alpaca order classification failed", "client_order_id", clientOrderID, "err", err)
			continue
		}
		resolved = append(resolved, r)
	}
	return resolved, nil
}

// classify turns a terminal broker order into the ledger order's terminal
// state: unfilled when nothing executed, filled with the broker's fill
// details otherwise. Fees are not tracked and recorded as zero.
func classify(o ledger.PortfolioOrder, remote *alpaca.Order) (ledger.PortfolioOrder, error) {
	if remote.FilledQty == "" {
		return o.WithUnfilled(), nil
	}
	qty, err := decimal.NewFromString(remote.FilledQty)
	if err != nil {
		return ledger.PortfolioOrder{}, fmt.Errorf("filled_qty %q: %w", remote.FilledQty, err)
	}
	if qty.IsZero() {
		return o.WithUnfilled(), nil
	}

	price, err := decimal.NewFromString(remote.FilledAvgPrice)
	if err != nil {
		return ledger.PortfolioOrder{}, fmt.Errorf("filled_avg_price %q: %w", remote.FilledAvgPrice, err)
	}
	filledAt, err := remote.FilledAtParsed()
	if err != nil {
		return ledger.PortfolioOrder{}, fmt.Errorf("filled_at %q: %w", remote.FilledAt, err)
	}
	return o.WithFill(filledAt, qty, price, decimal.Zero, remote.ID), nil
}

func (a *Alpaca) SubmitOrders(ctx context.Context, pf ledger.Portfolio, orders []ledger.PortfolioOrder) error {
	for _, o := range orders {
		clientOrderID := ClientOrderID(pf, o)
		slog.Info("submitting order to alpaca", "client_order_id", clientOrderID, "summary", o.Summary())

		req := alpaca.OrderRequest{
			Symbol:        o.Ticker,
			Side:          o.Side,
			Type:          "market",
			TimeInForce:   "day",
			ClientOrderID: clientOrderID,
		}
		switch o.Side {
		case ledger.SideBuy:
			req.Notional = o.Notional.Decimal.String()
		case ledger.SideSell:
			req.Qty = o.Quantity.Decimal.String()
		}

		if _, err := a.client.SubmitOrder(ctx, req); err != nil {
			return fmt.Errorf("submitting order %s: %w", clientOrderID, err)
		}
	}
	return nil
}
