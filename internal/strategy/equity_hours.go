package strategy

import (
	"context"
	"time"
)

// equityHours is a tracking-only module for portfolios that are operated by
// hand: it keeps the schedule alive during NYSE hours but never proposes a
// trade.
type equityHours struct{}

func (equityHours) IsMarketOpen(ctx context.Context) (bool, error) {
	return NYSEOpen(time.Now()), nil
}

func (equityHours) CanTrade(ctx context.Context, p Params) (bool, error) {
	return false, nil
}

func (equityHours) CreatePortfolio(ctx context.Context, p Params) (*Backtest, error) {
	return &Backtest{}, nil
}
