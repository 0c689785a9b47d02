// Command syncctl runs syncs and token checks from the shell, outside the
// HTTP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harvey-AU/ad-metrics-sync/internal/app"
	"github.com/Harvey-AU/ad-metrics-sync/internal/config"
	"github.com/Harvey-AU/ad-metrics-sync/internal/db"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	godotenv.Load(".env.local", ".env")

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(loadEnv).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadEnv connects to the registry and builds the sync services
func loadEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	pgDB, err := db.InitFromEnv()
	if err != nil {
		return nil, err
	}

	services, err := app.Build(ctx, cfg, pgDB)
	if err != nil {
		pgDB.Close()
		return nil, err
	}

	return &env{
		runner:  services.Runner,
		tokens:  services.Tokens,
		clients: pgDB,
		close: func() error {
			services.Close()
			return pgDB.Close()
		},
	}, nil
}
