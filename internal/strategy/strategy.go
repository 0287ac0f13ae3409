// Package strategy defines the capability surface a trading strategy module
// exposes to the trader, plus the registry that resolves modules by name.
package strategy

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Params is the initial state a strategy evaluates against.
type Params struct {
	Live          bool
	InitCash      decimal.Decimal
	InitPositions map[string]decimal.Decimal
}

// OrderRow is one proposed trade from a backtest's readable order output.
// Column is the backtest's own column identifier; ColumnTicker maps it back
// to a ticker symbol.
type OrderRow struct {
	Column string
	Side   string // "buy" or "sell"
	Size   decimal.Decimal
	Price  decimal.Decimal
}

// Backtest is the result of evaluating a strategy against live state.
type Backtest struct {
	Orders []OrderRow
}

// Strategy is a trading strategy module. Implementations are opaque to the
// trader: it only asks whether the market is open, whether trading is
// possible right now, and what the backtest proposes.
type Strategy interface {
	IsMarketOpen(ctx context.Context) (bool, error)

	// CanTrade reports whether the strategy can evaluate right now, e.g.
	// whether its data sources are available. False skips the cycle
	// silently.
	CanTrade(ctx context.Context, p Params) (bool, error)

	// CreatePortfolio runs the backtest against the given initial state.
	CreatePortfolio(ctx context.Context, p Params) (*Backtest, error)
}

// ColumnTicker maps a backtest column identifier back to a ticker symbol.
// Multi-level columns render as tuples like ("close", "BITO"); the ticker
// is the last element. Anything else passes through unchanged.
func ColumnTicker(column string) string {
	s := strings.TrimSpace(column)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return column
	}
	parts := strings.Split(s[1:len(s)-1], ",")
	if len(parts) < 2 {
		return column
	}
	last := strings.TrimSpace(parts[len(parts)-1])
	last = strings.Trim(last, `'"`)
	if last == "" {
		return column
	}
	return last
}
