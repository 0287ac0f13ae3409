package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gw/tradebot/internal/alpaca"
	"github.com/gw/tradebot/internal/config"
	"github.com/gw/tradebot/internal/ledger"
	"github.com/gw/tradebot/internal/strategy"
	"github.com/gw/tradebot/internal/trader"
)

func main() {
	dbPath := flag.String("db", "", "sqlite ledger path")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Load config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	slog.Info("trader starting", "db", cfg.DBPath, "interval", cfg.PollInterval)

	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		slog.Error("opening ledger", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if cfg.StreamEnabled {
		startStreams(ctx, store)
	}

	t := trader.New(store, strategy.Builtin(), cfg.PollInterval)
	if err := t.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("trader stopped", "err", err)
		os.Exit(1)
	}
}

// startStreams tails trade updates for every alpaca broker an enabled
// portfolio references. Purely observational; failures only cost log lines.
func startStreams(ctx context.Context, store *ledger.Store) {
	portfolios, err := store.FetchEnabledPortfolios(ctx)
	if err != nil {
		slog.Warn("skipping trade-update streams", "err", err)
		return
	}

	started := make(map[int64]bool)
	for _, pf := range portfolios {
		if started[pf.BrokerID] {
			continue
		}
		rec, err := store.FetchPortfolioBroker(ctx, pf.ID)
		if err != nil {
			slog.Warn("skipping stream for portfolio", "portfolio", pf.Name, "err", err)
			continue
		}
		started[pf.BrokerID] = true
		if rec.Type != "alpaca" {
			continue
		}

		var creds alpaca.Credentials
		if err := json.Unmarshal([]byte(rec.Credentials), &creds); err != nil {
			slog.Warn("bad credentials for broker stream", "broker", rec.Name, "err", err)
			continue
		}
		stream := alpaca.NewStream(rec.Name, creds)
		go func() {
			if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("trade-update stream stopped", "err", err)
			}
		}()
	}
}
