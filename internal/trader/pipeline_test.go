package trader

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gw/tradebot/internal/broker"
	"github.com/gw/tradebot/internal/ledger"
	"github.com/gw/tradebot/internal/strategy"
)

type fakeStrategy struct {
	marketOpen bool
	canTrade   bool
	orders     []strategy.OrderRow
	createErr  error
}

func (f *fakeStrategy) IsMarketOpen(ctx context.Context) (bool, error) {
	return f.marketOpen, nil
}

func (f *fakeStrategy) CanTrade(ctx context.Context, p strategy.Params) (bool, error) {
	return f.canTrade, nil
}

func (f *fakeStrategy) CreatePortfolio(ctx context.Context, p strategy.Params) (*strategy.Backtest, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &strategy.Backtest{Orders: f.orders}, nil
}

type fakeBroker struct {
	positions   map[string]decimal.Decimal
	resolved    []ledger.PortfolioOrder
	submitted   []ledger.PortfolioOrder
	submitErr   error
	resolveCall int
}

func (f *fakeBroker) Positions(ctx context.Context, pf ledger.Portfolio) (map[string]decimal.Decimal, error) {
	return f.positions, nil
}

func (f *fakeBroker) ResolveOrders(ctx context.Context, pf ledger.Portfolio, open []ledger.PortfolioOrder) ([]ledger.PortfolioOrder, error) {
	f.resolveCall++
	return f.resolved, nil
}

func (f *fakeBroker) SubmitOrders(ctx context.Context, pf ledger.Portfolio, orders []ledger.PortfolioOrder) error {
	f.submitted = append(f.submitted, orders...)
	return f.submitErr
}

type fixture struct {
	store *ledger.Store
	tr    *Trader
	strat *fakeStrategy
	pf    ledger.Portfolio
	now   time.Time
}

// newFixture seeds one enabled portfolio due to run right now. bk == nil is
// manual mode.
func newFixture(t *testing.T, bk broker.Broker) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	brokerID, err := store.InsertBroker(ctx, ledger.Broker{Author: "u1", Name: "test", Type: "manual"})
	if err != nil {
		t.Fatalf("inserting broker: %v", err)
	}

	now := time.Date(2026, 3, 2, 14, 30, 10, 0, time.UTC) // Mon 09:30:10 ET
	pfID, err := store.InsertPortfolio(ctx, ledger.Portfolio{
		Author:         "u1",
		Enabled:        true,
		BrokerID:       brokerID,
		Name:           "Test Portfolio",
		Shortname:      "tp",
		Module:         "fake",
		Schedule:       "30 9 * * 1-5",
		StartTimestamp: now.Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("inserting portfolio: %v", err)
	}
	pf, err := store.FetchPortfolio(ctx, "u1", pfID)
	if err != nil {
		t.Fatalf("fetching portfolio: %v", err)
	}

	strat := &fakeStrategy{marketOpen: true, canTrade: true}
	registry := strategy.NewRegistry()
	registry.Register("fake", func() (strategy.Strategy, error) { return strat, nil })

	tr := New(store, registry, time.Second)
	tr.newBroker = func(ledger.Broker) (broker.Broker, error) { return bk, nil }
	tr.now = func() time.Time { return now }

	return &fixture{store: store, tr: tr, strat: strat, pf: pf, now: now}
}

func (f *fixture) deposit(t *testing.T, amount string) {
	t.Helper()
	_, err := f.store.InsertCash(context.Background(), ledger.PortfolioCash{
		PortfolioID:    f.pf.ID,
		Event:          "deposit",
		EventTimestamp: f.now.Add(-time.Hour),
		Amount:         d(amount),
	})
	if err != nil {
		t.Fatalf("inserting cash: %v", err)
	}
}

func (f *fixture) position(t *testing.T, ticker, amount string) {
	t.Helper()
	_, err := f.store.InsertPosition(context.Background(), ledger.PortfolioPosition{
		PortfolioID:    f.pf.ID,
		Event:          "fill",
		EventTimestamp: f.now.Add(-time.Hour),
		Ticker:         ticker,
		Amount:         d(amount),
	})
	if err != nil {
		t.Fatalf("inserting position: %v", err)
	}
}

func (f *fixture) orders(t *testing.T, status string) []ledger.PortfolioOrder {
	t.Helper()
	orders, err := f.store.FetchOrdersByStatus(context.Background(), f.pf.ID, status)
	if err != nil {
		t.Fatalf("fetching orders: %v", err)
	}
	return orders
}

func (f *fixture) runs(t *testing.T) []ledger.PortfolioRun {
	t.Helper()
	runs, err := f.store.FetchRuns(context.Background(), f.pf.ID)
	if err != nil {
		t.Fatalf("fetching runs: %v", err)
	}
	return runs
}

func TestPipelineNotionalClampedToAvailableCash(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(t, "100")
	f.strat.orders = []strategy.OrderRow{
		{Column: "AAPL", Side: "buy", Size: d("10"), Price: d("15")},
	}

	f.tr.processPortfolio(context.Background(), f.pf)

	open := f.orders(t, ledger.OrderOpen)
	if len(open) != 1 {
		t.Fatalf("got %d open orders, want 1", len(open))
	}
	if got := open[0].Notional.Decimal; !got.Equal(d("100")) {
		t.Errorf("notional = %s, want 100", got)
	}
	if open[0].Quantity.Valid {
		t.Error("buy order carries a quantity")
	}
}

func TestPipelineSellSortsBeforeBuy(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(t, "1000")
	f.strat.orders = []strategy.OrderRow{
		{Column: "AAPL", Side: "buy", Size: d("1"), Price: d("100")},
		{Column: "MSFT", Side: "sell", Size: d("3"), Price: d("200")},
	}

	f.tr.processPortfolio(context.Background(), f.pf)

	open := f.orders(t, ledger.OrderOpen)
	if len(open) != 1 {
		t.Fatalf("got %d open orders, want 1", len(open))
	}
	if open[0].Ticker != "MSFT" || open[0].Side != ledger.SideSell {
		t.Errorf("created %s %s, want sell MSFT", open[0].Side, open[0].Ticker)
	}
	if got := open[0].Quantity.Decimal; !got.Equal(d("3")) {
		t.Errorf("quantity = %s, want 3", got)
	}
	if open[0].Notional.Valid {
		t.Error("sell order carries a notional")
	}
}

func TestPipelineManualOrderIsPreNotified(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(t, "100")
	f.strat.orders = []strategy.OrderRow{
		{Column: "AAPL", Side: "buy", Size: d("1"), Price: d("50")},
	}

	f.tr.processPortfolio(context.Background(), f.pf)

	open := f.orders(t, ledger.OrderOpen)
	if len(open) != 1 {
		t.Fatalf("got %d open orders, want 1", len(open))
	}
	if !open[0].Notified {
		t.Error("manual order not pre-notified")
	}
	if got := open[0].Notional.Decimal; !got.Equal(d("50")) {
		t.Errorf("notional = %s, want 50", got)
	}
}

func TestPipelineBrokerOrderIsNotPreNotified(t *testing.T) {
	bk := &fakeBroker{positions: map[string]decimal.Decimal{}}
	f := newFixture(t, bk)
	f.deposit(t, "100")
	f.strat.orders = []strategy.OrderRow{
		{Column: "AAPL", Side: "buy", Size: d("1"), Price: d("50")},
	}

	f.tr.processPortfolio(context.Background(), f.pf)

	open := f.orders(t, ledger.OrderOpen)
	if len(open) != 1 {
		t.Fatalf("got %d open orders, want 1", len(open))
	}
	if open[0].Notified {
		t.Error("broker-submitted order pre-notified; fill notification would be lost")
	}
	if len(bk.submitted) != 1 {
		t.Fatalf("submitted %d orders, want 1", len(bk.submitted))
	}
}

func TestPipelineNoCandidatesAdvancesSchedule(t *testing.T) {
	f := newFixture(t, nil)
	f.strat.orders = nil

	f.tr.processPortfolio(context.Background(), f.pf)

	runs := f.runs(t)
	if len(runs) != 1 || runs[0].Status != ledger.RunSucceeded {
		t.Fatalf("runs = %+v, want one succeeded run", runs)
	}
	pf, err := f.store.FetchPortfolio(context.Background(), "u1", f.pf.ID)
	if err != nil {
		t.Fatalf("fetching portfolio: %v", err)
	}
	if !pf.LastRunTimestamp.Valid {
		t.Error("last run timestamp not advanced on a no-trade run")
	}
	if len(f.orders(t, ledger.OrderOpen)) != 0 {
		t.Error("no-trade run created an order")
	}
}

func TestPipelineStrategyErrorRecordsFailedRun(t *testing.T) {
	f := newFixture(t, nil)
	f.strat.createErr = errors.New("data source unavailable")

	f.tr.processPortfolio(context.Background(), f.pf)

	runs := f.runs(t)
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Status != ledger.RunFailed {
		t.Errorf("run status = %s, want failed", runs[0].Status)
	}
	if !runs[0].Error.Valid || runs[0].Error.String == "" {
		t.Error("failed run has no error text")
	}
	pf, err := f.store.FetchPortfolio(context.Background(), "u1", f.pf.ID)
	if err != nil {
		t.Fatalf("fetching portfolio: %v", err)
	}
	if pf.LastRunTimestamp.Valid {
		t.Error("failed run advanced the schedule")
	}
	if len(f.orders(t, ledger.OrderOpen)) != 0 {
		t.Error("failed run created an order")
	}
}

func TestPipelineMarketClosedSkipsSilently(t *testing.T) {
	f := newFixture(t, nil)
	f.strat.marketOpen = false
	f.strat.orders = []strategy.OrderRow{
		{Column: "AAPL", Side: "buy", Size: d("1"), Price: d("50")},
	}

	f.tr.processPortfolio(context.Background(), f.pf)

	if len(f.runs(t)) != 0 {
		t.Error("market-closed skip recorded a run")
	}
	if len(f.orders(t, ledger.OrderOpen)) != 0 {
		t.Error("market-closed skip created an order")
	}
}

func TestPipelineCanTradeFalseSkipsSilently(t *testing.T) {
	f := newFixture(t, nil)
	f.strat.canTrade = false

	f.tr.processPortfolio(context.Background(), f.pf)

	if len(f.runs(t)) != 0 {
		t.Error("can-trade skip recorded a run")
	}
}

func TestPipelinePositionMismatchSkips(t *testing.T) {
	bk := &fakeBroker{positions: map[string]decimal.Decimal{"AAPL": d("5")}}
	f := newFixture(t, bk)
	f.position(t, "AAPL", "10")
	f.position(t, "AAPL", "-4")
	f.strat.orders = []strategy.OrderRow{
		{Column: "AAPL", Side: "buy", Size: d("1"), Price: d("50")},
	}

	f.tr.processPortfolio(context.Background(), f.pf)

	if len(f.runs(t)) != 0 {
		t.Error("position mismatch recorded a run")
	}
	if len(f.orders(t, ledger.OrderOpen)) != 0 {
		t.Error("position mismatch created an order")
	}
}

func TestPipelinePositionMatchProceeds(t *testing.T) {
	bk := &fakeBroker{positions: map[string]decimal.Decimal{"AAPL": d("6")}}
	f := newFixture(t, bk)
	f.position(t, "AAPL", "10")
	f.position(t, "AAPL", "-4")

	f.tr.processPortfolio(context.Background(), f.pf)

	runs := f.runs(t)
	if len(runs) != 1 || runs[0].Status != ledger.RunSucceeded {
		t.Fatalf("runs = %+v, want one succeeded run", runs)
	}
}

func TestOpenOrderBlocksScheduling(t *testing.T) {
	// Lookup failures resolve nothing, so the open order must survive
	// untouched and hold back the schedule.
	bk := &fakeBroker{positions: map[string]decimal.Decimal{}, resolved: nil}
	f := newFixture(t, bk)
	f.deposit(t, "100")
	f.strat.orders = []strategy.OrderRow{
		{Column: "AAPL", Side: "buy", Size: d("1"), Price: d("50")},
	}

	runID, err := f.store.InsertRun(context.Background(), ledger.PortfolioRun{
		PortfolioID: f.pf.ID, Status: ledger.RunSucceeded, Timestamp: f.now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("inserting run: %v", err)
	}
	orderID, err := f.store.InsertOrder(context.Background(), ledger.PortfolioOrder{
		PortfolioID: f.pf.ID, RunID: runID, Status: ledger.OrderOpen,
		Ticker: "AAPL", Side: ledger.SideBuy, CreateTimestamp: f.now.Add(-time.Hour),
		Notional: decimal.NullDecimal{Decimal: d("50"), Valid: true},
	})
	if err != nil {
		t.Fatalf("inserting order: %v", err)
	}

	f.tr.processPortfolio(context.Background(), f.pf)

	if bk.resolveCall != 1 {
		t.Errorf("resolve called %d times, want 1", bk.resolveCall)
	}
	open := f.orders(t, ledger.OrderOpen)
	if len(open) != 1 || open[0].ID != orderID {
		t.Fatalf("open orders = %+v, want only the original", open)
	}
	if open[0].Status != ledger.OrderOpen {
		t.Errorf("order status = %s, want open", open[0].Status)
	}
	if len(f.runs(t)) != 1 {
		t.Error("scheduling ran despite an unresolved open order")
	}
}

func TestResolutionUnblocksScheduling(t *testing.T) {
	bk := &fakeBroker{positions: map[string]decimal.Decimal{"AAPL": d("1")}}
	f := newFixture(t, bk)
	f.position(t, "AAPL", "1")

	ctx := context.Background()
	runID, err := f.store.InsertRun(ctx, ledger.PortfolioRun{
		PortfolioID: f.pf.ID, Status: ledger.RunSucceeded, Timestamp: f.now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("inserting run: %v", err)
	}
	orderID, err := f.store.InsertOrder(ctx, ledger.PortfolioOrder{
		PortfolioID: f.pf.ID, RunID: runID, Status: ledger.OrderOpen,
		Ticker: "AAPL", Side: ledger.SideBuy, CreateTimestamp: f.now.Add(-time.Hour),
		Notional: decimal.NullDecimal{Decimal: d("50"), Valid: true},
	})
	if err != nil {
		t.Fatalf("inserting order: %v", err)
	}

	stale := f.orders(t, ledger.OrderOpen)[0]
	bk.resolved = []ledger.PortfolioOrder{
		stale.WithFill(f.now.Add(-30*time.Minute), d("1"), d("50"), d("0"), "broker-123"),
	}

	f.tr.processPortfolio(ctx, f.pf)

	filled := f.orders(t, ledger.OrderFilled)
	if len(filled) != 1 || filled[0].ID != orderID {
		t.Fatalf("filled orders = %+v, want the resolved order", filled)
	}
	if got := filled[0].FillPrice.Decimal; !got.Equal(d("50")) {
		t.Errorf("fill price = %s, want 50", got)
	}
	if filled[0].BrokerOrderID.String != "broker-123" {
		t.Errorf("broker order id = %q", filled[0].BrokerOrderID.String)
	}

	// With the books cleared, the same cycle went on to schedule.
	if len(f.runs(t)) != 2 {
		t.Errorf("got %d runs, want 2 (seed + new)", len(f.runs(t)))
	}
}

func TestAtMostOneOpenOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(t, "1000")
	f.strat.orders = []strategy.OrderRow{
		{Column: "AAPL", Side: "buy", Size: d("1"), Price: d("50")},
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.tr.processPortfolio(ctx, f.pf)
	}

	if open := f.orders(t, ledger.OrderOpen); len(open) != 1 {
		t.Fatalf("got %d open orders after repeated cycles, want 1", len(open))
	}
}

func TestSubmitErrorLeavesOrderOpen(t *testing.T) {
	bk := &fakeBroker{positions: map[string]decimal.Decimal{}, submitErr: errors.New("alpaca 500")}
	f := newFixture(t, bk)
	f.deposit(t, "100")
	f.strat.orders = []strategy.OrderRow{
		{Column: "AAPL", Side: "buy", Size: d("1"), Price: d("50")},
	}

	ctx := context.Background()
	tx, err := f.store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := f.tr.process(ctx, tx, f.pf); err == nil {
		t.Error("submit failure did not propagate")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	open := f.orders(t, ledger.OrderOpen)
	if len(open) != 1 {
		t.Fatalf("got %d open orders, want the persisted one", len(open))
	}
}

func TestColumnTupleMapsToTicker(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(t, "100")
	f.strat.orders = []strategy.OrderRow{
		{Column: "('close', 'BITO')", Side: "buy", Size: d("1"), Price: d("20")},
	}

	f.tr.processPortfolio(context.Background(), f.pf)

	open := f.orders(t, ledger.OrderOpen)
	if len(open) != 1 {
		t.Fatalf("got %d open orders, want 1", len(open))
	}
	if open[0].Ticker != "BITO" {
		t.Errorf("ticker = %q, want BITO", open[0].Ticker)
	}
}
