package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gw/tradebot/internal/config"
	"github.com/gw/tradebot/internal/ledger"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "portfolios":
		runPortfolios(args)
	case "brokers":
		runBrokers(args)
	case "runs":
		runRuns(args)
	case "orders":
		runOrders(args)
	case "positions":
		runPositions(args)
	case "cash":
		runCash(args)
	case "add-broker":
		runAddBroker(args)
	case "add-portfolio":
		runAddPortfolio(args)
	case "enable":
		runSetEnabled(args, true)
	case "disable":
		runSetEnabled(args, false)
	case "deposit":
		runDeposit(args)
	case "book-fills":
		runBookFills(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: tradectl <command>

Commands:
  portfolios <author>            List an author's portfolios
  brokers <author>               List an author's brokers
  runs <portfolio-id>            Show runs for a portfolio
  orders <portfolio-id> <status> Show orders in a status (open/filled/unfilled)
  positions <portfolio-id>       Show ledger positions
  cash <portfolio-id>            Show cash events and available cash
  add-broker [flags]             Register a broker
  add-portfolio [flags]          Register a portfolio
  enable <author> <id>           Enable a portfolio
  disable <author> <id>          Disable a portfolio
  deposit [flags]                Append a cash event
  book-fills <portfolio-id>      Append cash/position events for unbooked fills`)
}

func openStore() *ledger.Store {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		slog.Error("opening ledger", "err", err)
		os.Exit(1)
	}
	return store
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad id %q\n", s)
		os.Exit(1)
	}
	return id
}

func runPortfolios(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: tradectl portfolios <author>")
		os.Exit(1)
	}
	store := openStore()
	defer store.Close()

	pfs, err := store.FetchPortfolios(context.Background(), args[0])
	if err != nil {
		slog.Error("query failed", "err", err)
		os.Exit(1)
	}
	if len(pfs) == 0 {
		fmt.Println("No portfolios.")
		return
	}

	fmt.Printf("%-4s %-8s %-20s %-10s %-20s %-15s %s\n",
		"ID", "Enabled", "Name", "Short", "Module", "Schedule", "Last Run")
	for _, p := range pfs {
		lastRun := "never"
		if p.LastRunTimestamp.Valid {
			lastRun = p.LastRunTimestamp.Time.Format(time.RFC3339)
		}
		fmt.Printf("%-4d %-8t %-20s %-10s %-20s %-15s %s\n",
			p.ID, p.Enabled, p.Name, p.Shortname, p.Module, p.Schedule, lastRun)
	}
}

func runBrokers(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: tradectl brokers <author>")
		os.Exit(1)
	}
	store := openStore()
	defer store.Close()

	brokers, err := store.FetchBrokers(context.Background(), args[0])
	if err != nil {
		slog.Error("query failed", "err", err)
		os.Exit(1)
	}
	if len(brokers) == 0 {
		fmt.Println("No brokers.")
		return
	}

	fmt.Printf("%-4s %-20s %s\n", "ID", "Name", "Type")
	for _, b := range brokers {
		fmt.Printf("%-4d %-20s %s\n", b.ID, b.Name, b.Type)
	}
}

func runRuns(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: tradectl runs <portfolio-id>")
		os.Exit(1)
	}
	store := openStore()
	defer store.Close()

	runs, err := store.FetchRuns(context.Background(), parseID(args[0]))
	if err != nil {
		slog.Error("query failed", "err", err)
		os.Exit(1)
	}
	if len(runs) == 0 {
		fmt.Println("No runs.")
		return
	}

	fmt.Printf("%-6s %-10s %-25s %s\n", "ID", "Status", "Timestamp", "Error")
	for _, r := range runs {
		errText := ""
		if r.Error.Valid {
			errText = r.Error.String
			if len(errText) > 60 {
				errText = errText[:60] + "..."
			}
		}
		fmt.Printf("%-6d %-10s %-25s %s\n", r.ID, r.Status, r.Timestamp.Format(time.RFC3339), errText)
	}
}

func runOrders(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: tradectl orders <portfolio-id> <status>")
		os.Exit(1)
	}
	store := openStore()
	defer store.Close()

	orders, err := store.FetchOrdersByStatus(context.Background(), parseID(args[0]), args[1])
	if err != nil {
		slog.Error("query failed", "err", err)
		os.Exit(1)
	}
	if len(orders) == 0 {
		fmt.Println("No orders.")
		return
	}

	fmt.Printf("%-6s %-10s %-25s %-30s %s\n", "ID", "Status", "Created", "Order", "Fill")
	for _, o := range orders {
		fill := ""
		if o.Status == ledger.OrderFilled {
			fill = fmt.Sprintf("%s @ %s", o.FillQuantity.Decimal.String(), o.FillPrice.Decimal.String())
		}
		fmt.Printf("%-6d %-10s %-25s %-30s %s\n",
			o.ID, o.Status, o.CreateTimestamp.Format(time.RFC3339), o.Summary(), fill)
	}
}

func runPositions(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: tradectl positions <portfolio-id>")
		os.Exit(1)
	}
	store := openStore()
	defer store.Close()

	positions, err := store.FetchPositions(context.Background(), parseID(args[0]))
	if err != nil {
		slog.Error("query failed", "err", err)
		os.Exit(1)
	}
	if len(positions) == 0 {
		fmt.Println("No positions.")
		return
	}

	fmt.Printf("%-10s %s\n", "Ticker", "Quantity")
	for ticker, qty := range positions {
		fmt.Printf("%-10s %s\n", ticker, qty.String())
	}
}

func runCash(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: tradectl cash <portfolio-id>")
		os.Exit(1)
	}
	store := openStore()
	defer store.Close()

	ctx := context.Background()
	pfID := parseID(args[0])

	events, err := store.FetchCashHistory(ctx, pfID)
	if err != nil {
		slog.Error("query failed", "err", err)
		os.Exit(1)
	}
	available, err := store.FetchAvailableCash(ctx, pfID)
	if err != nil {
		slog.Error("query failed", "err", err)
		os.Exit(1)
	}

	fmt.Printf("%-6s %-12s %-25s %s\n", "ID", "Event", "Timestamp", "Amount")
	for _, c := range events {
		fmt.Printf("%-6d %-12s %-25s %s\n", c.ID, c.Event, c.EventTimestamp.Format(time.RFC3339), c.Amount.String())
	}
	fmt.Printf("\nAvailable: $%s\n", available.String())
}

func runAddBroker(args []string) {
	fs := flag.NewFlagSet("add-broker", flag.ExitOnError)
	author := fs.String("author", "", "owning user id")
	name := fs.String("name", "", "display name")
	brokerType := fs.String("type", "manual", "broker type (alpaca, manual)")
	credentials := fs.String("credentials", "{}", "credentials JSON blob")
	fs.Parse(args)

	if *author == "" || *name == "" {
		fmt.Fprintln(os.Stderr, "add-broker requires -author and -name")
		os.Exit(1)
	}

	store := openStore()
	defer store.Close()

	id, err := store.InsertBroker(context.Background(), ledger.Broker{
		Author:      *author,
		Name:        *name,
		Type:        *brokerType,
		Credentials: *credentials,
	})
	if err != nil {
		slog.Error("insert failed", "err", err)
		os.Exit(1)
	}
	fmt.Printf("Created broker %d.\n", id)
}

func runAddPortfolio(args []string) {
	fs := flag.NewFlagSet("add-portfolio", flag.ExitOnError)
	author := fs.String("author", "", "owning user id")
	brokerID := fs.Int64("broker", 0, "broker id")
	name := fs.String("name", "", "display name")
	shortname := fs.String("shortname", "", "short code for broker order ids")
	module := fs.String("module", "", "strategy module name")
	schedule := fs.String("schedule", "", "cron schedule (US Eastern wall clock)")
	start := fs.String("start", "", "start timestamp (RFC3339, default now)")
	fs.Parse(args)

	if *author == "" || *brokerID == 0 || *name == "" || *shortname == "" || *module == "" || *schedule == "" {
		fmt.Fprintln(os.Stderr, "add-portfolio requires -author, -broker, -name, -shortname, -module, -schedule")
		os.Exit(1)
	}

	startTS := time.Now().UTC()
	if *start != "" {
		t, err := time.Parse(time.RFC3339, *start)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad -start %q: %v\n", *start, err)
			os.Exit(1)
		}
		startTS = t.UTC()
	}

	store := openStore()
	defer store.Close()

	id, err := store.InsertPortfolio(context.Background(), ledger.Portfolio{
		Author:         *author,
		BrokerID:       *brokerID,
		Name:           *name,
		Shortname:      *shortname,
		Module:         *module,
		Schedule:       *schedule,
		StartTimestamp: startTS,
	})
	if err != nil {
		slog.Error("insert failed", "err", err)
		os.Exit(1)
	}
	fmt.Printf("Created portfolio %d (disabled; enable when funded).\n", id)
}

func runSetEnabled(args []string, enabled bool) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: tradectl enable|disable <author> <portfolio-id>")
		os.Exit(1)
	}
	store := openStore()
	defer store.Close()

	ctx := context.Background()
	pf, err := store.FetchPortfolio(ctx, args[0], parseID(args[1]))
	if err != nil {
		slog.Error("fetch failed", "err", err)
		os.Exit(1)
	}
	if err := store.UpdatePortfolio(ctx, pf.WithEnabled(enabled)); err != nil {
		slog.Error("update failed", "err", err)
		os.Exit(1)
	}
	fmt.Printf("Portfolio %d enabled=%t.\n", pf.ID, enabled)
}

func runDeposit(args []string) {
	fs := flag.NewFlagSet("deposit", flag.ExitOnError)
	pfID := fs.Int64("portfolio", 0, "portfolio id")
	amount := fs.String("amount", "", "amount (negative to withdraw)")
	event := fs.String("event", "deposit", "event label")
	fs.Parse(args)

	if *pfID == 0 || *amount == "" {
		fmt.Fprintln(os.Stderr, "deposit requires -portfolio and -amount")
		os.Exit(1)
	}
	amt, err := decimal.NewFromString(*amount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad -amount %q: %v\n", *amount, err)
		os.Exit(1)
	}

	store := openStore()
	defer store.Close()

	id, err := store.InsertCash(context.Background(), ledger.PortfolioCash{
		PortfolioID:    *pfID,
		Event:          *event,
		EventTimestamp: time.Now().UTC(),
		Amount:         amt,
	})
	if err != nil {
		slog.Error("insert failed", "err", err)
		os.Exit(1)
	}
	fmt.Printf("Recorded cash event %d.\n", id)
}

// runBookFills appends the cash and position events for filled orders that
// have not been booked yet. Booking is keyed on the order id appearing in
// the cash stream, so re-running is safe.
func runBookFills(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: tradectl book-fills <portfolio-id>")
		os.Exit(1)
	}
	store := openStore()
	defer store.Close()

	ctx := context.Background()
	pfID := parseID(args[0])

	filled, err := store.FetchOrdersByStatus(ctx, pfID, ledger.OrderFilled)
	if err != nil {
		slog.Error("query failed", "err", err)
		os.Exit(1)
	}
	cashEvents, err := store.FetchCashHistory(ctx, pfID)
	if err != nil {
		slog.Error("query failed", "err", err)
		os.Exit(1)
	}

	booked := make(map[int64]bool)
	for _, c := range cashEvents {
		if c.OrderID.Valid {
			booked[c.OrderID.Int64] = true
		}
	}

	count := 0
	for _, o := range filled {
		if booked[o.ID] {
			continue
		}
		qty := o.FillQuantity.Decimal
		gross := qty.Mul(o.FillPrice.Decimal)
		fee := o.FillFee.Decimal

		cashAmount := gross.Neg().Sub(fee)
		positionAmount := qty
		if o.Side == ledger.SideSell {
			cashAmount = gross.Sub(fee)
			positionAmount = qty.Neg()
		}

		orderRef := sql.NullInt64{Int64: o.ID, Valid: true}
		ts := o.FillTimestamp.Time

		if _, err := store.InsertCash(ctx, ledger.PortfolioCash{
			PortfolioID:    pfID,
			Event:          "fill",
			EventTimestamp: ts,
			Amount:         cashAmount,
			OrderID:        orderRef,
		}); err != nil {
			slog.Error("insert failed", "err", err)
			os.Exit(1)
		}
		if _, err := store.InsertPosition(ctx, ledger.PortfolioPosition{
			PortfolioID:    pfID,
			Event:          "fill",
			EventTimestamp: ts,
			Ticker:         o.Ticker,
			Amount:         positionAmount,
			OrderID:        orderRef,
		}); err != nil {
			slog.Error("insert failed", "err", err)
			os.Exit(1)
		}
		count++
	}
	fmt.Printf("Booked %d fill(s).\n", count)
}
