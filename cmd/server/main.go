package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"account-ledger/internal/config"
	"account-ledger/internal/domain"
	"account-ledger/internal/events"
	"account-ledger/internal/httpapi"
	"account-ledger/internal/ledger"
	"account-ledger/internal/seed"
	"account-ledger/internal/store"
	"account-ledger/internal/store/memstore"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// accountStore is what both store implementations offer the server.
type accountStore interface {
	domain.Store
	CreateAccount(ctx context.Context, acc domain.Account) error
}

func newLogger(cfg config.Config) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if cfg.IsDev() {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func openPostgres(ctx context.Context, cfg config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	logger.Info("[startup] parsing DB config", zap.Int("max_conns", cfg.DBMaxConns))
	pcfg, err := pgxpool.ParseConfig(cfg.DBDSN)
	if err != nil {
		return nil, err
	}

	pcfg.MaxConns = int32(cfg.DBMaxConns)
	pcfg.MinConns = 1
	pcfg.HealthCheckPeriod = 10 * time.Second
	pcfg.MaxConnLifetime = 30 * time.Minute
	pcfg.MaxConnIdleTime = 5 * time.Minute

	logger.Info("[startup] connecting to DB")
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if cfg.DBMigrate {
		logger.Info("[startup] running migrations")
		if err := store.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	} else {
		logger.Info("[startup] migrations disabled")
	}
	return pool, nil
}

func main() {
	start := time.Now()

	_ = godotenv.Load()
	cfg := config.Load()

	logger := newLogger(cfg)
	defer logger.Sync()

	logger.Info("[startup] begin",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("env", cfg.Env),
		zap.Bool("memory_store", cfg.UseMemoryStore()),
	)

	// Startup context
	startCtx, startCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer startCancel()

	var st accountStore
	if cfg.UseMemoryStore() {
		st = memstore.New()
	} else {
		pool, err := openPostgres(startCtx, cfg, logger)
		if err != nil {
			logger.Fatal("[startup] db init failed", zap.Error(err))
		}
		defer pool.Close()
		st = store.New(pool)
	}

	if cfg.SeedFile != "" {
		f, err := os.Open(cfg.SeedFile)
		if err != nil {
			logger.Fatal("[startup] open seed file", zap.Error(err))
		}
		_, err = seed.Load(startCtx, f, st, logger)
		f.Close()
		if err != nil {
			logger.Fatal("[startup] seed failed", zap.Error(err))
		}
	}

	opts := []ledger.Option{ledger.WithLogger(logger)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(startCtx).Err(); err != nil {
			// Publication is best effort; transfers still work without Redis.
			logger.Warn("[startup] redis unreachable, events will be dropped until it recovers", zap.Error(err))
		}
		opts = append(opts, ledger.WithPublisher(events.NewRedisPublisher(rdb, cfg.RedisChannel, logger)))
	}

	eng := ledger.NewEngine(st, ledger.NewAuthorizer(), ledger.NewReferenceCodeGenerator(), opts...)
	h := httpapi.NewHandlers(eng, logger)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.Router(h, cfg.HTTPMaxInflight),

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[startup] ready",
			zap.Duration("took", time.Since(start).Truncate(time.Millisecond)),
			zap.String("addr", cfg.HTTPAddr),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}
