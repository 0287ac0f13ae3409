package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath         string        // sqlite ledger path
	PollInterval   time.Duration // trader/notifier poll cadence
	DiscordWebhook string        // empty disables delivery
	StreamEnabled  bool          // subscribe to broker trade-update streams
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBPath:         getEnvDefault("TRADEBOT_DB_PATH", "data/tradebot.db"),
		DiscordWebhook: os.Getenv("TRADEBOT_DISCORD_WEBHOOK"),
		StreamEnabled:  getEnvDefault("TRADEBOT_STREAM", "on") == "on",
	}

	interval := getEnvDefault("TRADEBOT_POLL_INTERVAL", "10s")
	d, err := time.ParseDuration(interval)
	if err != nil {
		return nil, fmt.Errorf("TRADEBOT_POLL_INTERVAL must be a duration, got %q", interval)
	}
	if d <= 0 {
		return nil, fmt.Errorf("TRADEBOT_POLL_INTERVAL must be positive, got %q", interval)
	}
	cfg.PollInterval = d

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
