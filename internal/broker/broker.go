// Package broker abstracts brokerage integrations behind the three
// capabilities the trader needs: position replay, open-order resolution,
// and order submission.
package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/gw/tradebot/internal/alpaca"
	"github.com/gw/tradebot/internal/ledger"
)

type Broker interface {
	// Positions replays the broker's own fill history for this portfolio's
	// order-id namespace into a ticker -> signed quantity map.
	Positions(ctx context.Context, pf ledger.Portfolio) (map[string]decimal.Decimal, error)

	// ResolveOrders maps each open ledger order to its live broker state.
	// Only orders that reached a terminal broker status come back, carrying
	// their new ledger status; orders the broker could not look up or that
	// are still working are omitted and stay untouched.
	ResolveOrders(ctx context.Context, pf ledger.Portfolio, open []ledger.PortfolioOrder) ([]ledger.PortfolioOrder, error)

	// SubmitOrders places each order as a day-duration market order tagged
	// with its deterministic client order id.
	SubmitOrders(ctx context.Context, pf ledger.Portfolio, orders []ledger.PortfolioOrder) error
}

// New builds the live integration for a broker record. A "manual" record
// has no integration: the portfolio is tracked by hand and New returns nil.
func New(rec ledger.Broker) (Broker, error) {
	switch rec.Type {
	case "alpaca":
		var creds alpaca.Credentials
		blob := rec.Credentials
		if blob == "" {
			blob = "{}"
		}
		if err := json.Unmarshal([]byte(blob), &creds); err != nil {
			return nil, fmt.Errorf("broker %q credentials: %w", rec.Name, err)
		}
		return &Alpaca{client: alpaca.NewClient(creds)}, nil
	case "manual", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown broker type %q", rec.Type)
	}
}

// ClientOrderPrefix namespaces a portfolio's orders at the broker.
func ClientOrderPrefix(pf ledger.Portfolio) string {
	return fmt.Sprintf("%s_%d", pf.Shortname, pf.ID)
}

// ClientOrderID is the deterministic broker-facing id for a ledger order,
// globally unique across portfolios sharing a broker account.
func ClientOrderID(pf ledger.Portfolio, o ledger.PortfolioOrder) string {
	return fmt.Sprintf("%s_%d", ClientOrderPrefix(pf), o.ID)
}
