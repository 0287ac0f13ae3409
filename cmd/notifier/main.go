package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gw/tradebot/internal/config"
	"github.com/gw/tradebot/internal/ledger"
	"github.com/gw/tradebot/internal/notify"
)

func main() {
	dbPath := flag.String("db", "", "sqlite ledger path")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if cfg.DiscordWebhook == "" {
		slog.Warn("TRADEBOT_DISCORD_WEBHOOK is not set; notified flags will advance without delivery")
	}

	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		slog.Error("opening ledger", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	n := notify.New(store, notify.NewDiscord(cfg.DiscordWebhook), cfg.PollInterval)
	if err := n.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("notifier stopped", "err", err)
		os.Exit(1)
	}
}
