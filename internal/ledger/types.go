package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Run statuses.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Order statuses. An order is created open and moves to filled or unfilled
// exactly once; it never transitions backward.
const (
	OrderOpen     = "open"
	OrderFilled   = "filled"
	OrderUnfilled = "unfilled"
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Broker is a brokerage account registration. The credentials blob is a
// JSON object whose shape depends on Type.
type Broker struct {
	ID          int64
	Author      string
	Name        string
	Type        string
	Credentials string
}

// Portfolio is one configured strategy instance with its own schedule,
// broker, and ledger. Shortname plus ID namespaces every broker-facing
// order identifier, so portfolios sharing a broker account cannot collide.
type Portfolio struct {
	ID               int64
	Author           string
	Enabled          bool
	BrokerID         int64
	Name             string
	Shortname        string
	Module           string
	Schedule         string
	StartTimestamp   time.Time
	LastRunTimestamp sql.NullTime
}

// WithLastRun returns a copy with the last-run timestamp advanced.
func (p Portfolio) WithLastRun(t time.Time) Portfolio {
	p.LastRunTimestamp = sql.NullTime{Time: t, Valid: true}
	return p
}

// WithEnabled returns a copy with the enabled flag set.
func (p Portfolio) WithEnabled(enabled bool) Portfolio {
	p.Enabled = enabled
	return p
}

// ScheduleRef is the reference instant the schedule walks forward from:
// the last run when there is one, otherwise the configured start.
func (p Portfolio) ScheduleRef() time.Time {
	if p.LastRunTimestamp.Valid {
		return p.LastRunTimestamp.Time
	}
	return p.StartTimestamp
}

// PortfolioRun records one schedule firing, whether or not it produced an
// order. Immutable except for the notified flag.
type PortfolioRun struct {
	ID          int64
	PortfolioID int64
	Status      string
	Timestamp   time.Time
	Error       sql.NullString
	Notified    bool
}

func (r PortfolioRun) WithNotified(notified bool) PortfolioRun {
	r.Notified = notified
	return r
}

// PortfolioOrder is one trade instruction. Buys carry a notional dollar
// amount, sells a share quantity; exactly one of the two is set. Fill
// fields and the broker order id are populated only at resolution.
type PortfolioOrder struct {
	ID              int64
	PortfolioID     int64
	RunID           int64
	Status          string
	Ticker          string
	Side            string
	CreateTimestamp time.Time
	Notional        decimal.NullDecimal
	Quantity        decimal.NullDecimal
	FillTimestamp   sql.NullTime
	FillQuantity    decimal.NullDecimal
	FillPrice       decimal.NullDecimal
	FillFee         decimal.NullDecimal
	BrokerOrderID   sql.NullString
	Notified        bool
}

// WithFill returns a filled copy with the broker's fill details attached.
func (o PortfolioOrder) WithFill(ts time.Time, qty, price, fee decimal.Decimal, brokerOrderID string) PortfolioOrder {
	o.Status = OrderFilled
	o.FillTimestamp = sql.NullTime{Time: ts, Valid: true}
	o.FillQuantity = decimal.NullDecimal{Decimal: qty, Valid: true}
	o.FillPrice = decimal.NullDecimal{Decimal: price, Valid: true}
	o.FillFee = decimal.NullDecimal{Decimal: fee, Valid: true}
	o.BrokerOrderID = sql.NullString{String: brokerOrderID, Valid: true}
	o.Notified = false
	return o
}

// WithUnfilled returns a terminally unfilled copy; fill fields stay null.
func (o PortfolioOrder) WithUnfilled() PortfolioOrder {
	o.Status = OrderUnfilled
	o.Notified = false
	return o
}

func (o PortfolioOrder) WithNotified(notified bool) PortfolioOrder {
	o.Notified = notified
	return o
}

// Summary renders the order the way operators read it: buys by dollar
// amount, sells by share count.
func (o PortfolioOrder) Summary() string {
	if o.Side == SideBuy {
		return fmt.Sprintf("BUY $%s of %s", o.Notional.Decimal.String(), o.Ticker)
	}
	return fmt.Sprintf("SELL %s of %s", o.Quantity.Decimal.String(), o.Ticker)
}

// PortfolioCash is one append-only cash ledger event.
type PortfolioCash struct {
	ID             int64
	PortfolioID    int64
	Event          string
	EventTimestamp time.Time
	Amount         decimal.Decimal
	OrderID        sql.NullInt64
}

// PortfolioPosition is one append-only position ledger event. Amount is
// signed: buys positive, sells negative.
type PortfolioPosition struct {
	ID             int64
	PortfolioID    int64
	Event          string
	EventTimestamp time.Time
	Ticker         string
	Amount         decimal.Decimal
	OrderID        sql.NullInt64
}
