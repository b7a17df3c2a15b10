package main

import (
	"context"
	"flag"
	"os"
	"time"

	"account-ledger/internal/config"
	"account-ledger/internal/seed"
	"account-ledger/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	inPath := flag.String("in", "", "accounts CSV (account_id,owner_id,currency_code,balance)")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if *inPath == "" {
		logger.Fatal("missing -in")
	}
	if cfg.UseMemoryStore() {
		logger.Fatal("seed needs a Postgres LEDGER_DB_DSN; the memory store is seeded by the server via LEDGER_SEED_FILE")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	if cfg.DBMigrate {
		if err := store.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
	}

	f, err := os.Open(*inPath)
	if err != nil {
		logger.Fatal("open seed file", zap.Error(err))
	}
	defer f.Close()

	n, err := seed.Load(ctx, f, store.New(pool), logger)
	if err != nil {
		logger.Fatal("seed failed", zap.Int("created", n), zap.Error(err))
	}
}
