package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	accountcmd "github.com/eaglebank/ledger/internal/command"
	"github.com/eaglebank/ledger/internal/config"
	"github.com/eaglebank/ledger/internal/handler"
	"github.com/eaglebank/ledger/internal/migrations"
	accountqry "github.com/eaglebank/ledger/internal/query"
	"github.com/eaglebank/ledger/internal/repository"
	"github.com/eaglebank/ledger/shared/events"
	"github.com/eaglebank/ledger/shared/logging"
	redisClient "github.com/eaglebank/ledger/shared/redis"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	streamMaxLen    = 100000
	consumerGroup   = "ledger-view-invalidator"
)

type ledgerStore interface {
	repository.AccountStore
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	os.Exit(exitCode(logger, run(cfg, logger)))
}

// exitCode logs the outcome of run and flushes the logger before the process
// exits.
func exitCode(logger *zap.Logger, err error) int {
	code := 0
	if err != nil {
		logger.Error("ledger stopped", zap.Error(err))
		code = 1
	}
	_ = logger.Sync()
	return code
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Redis is optional: without it views are read from the store and no
	// events are published.
	var redis *redisClient.Client
	if cfg.RedisAddr != "" {
		redis, err = redisClient.NewClient(ctx, redisClient.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer redis.Close()
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	} else {
		logger.Warn("REDIS_ADDR not set, running without view cache and events")
	}

	// --- CQRS wiring ---
	publisher := events.NewPublisher(redis.Raw(), streamMaxLen)
	readRepo := repository.NewAccountReadRepository(store, redis.Raw(), cfg.ViewTTL, logger)

	commandSvc := accountcmd.NewAccountCommandService(store, readRepo, publisher, logger)
	transferSvc := accountcmd.NewTransferCommandService(store, readRepo, publisher, logger,
		accountcmd.WithTransferTimeout(cfg.TransferTimeout))
	querySvc := accountqry.NewAccountQueryService(readRepo)

	checks := map[string]handler.HealthCheck{"store": store.Ping}
	if redis != nil {
		checks["redis"] = func(ctx context.Context) error { return redis.Ping(ctx).Err() }
	}

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(handler.RouterConfig{
		Logger:      logger,
		JWTSecret:   []byte(cfg.JWTSecret),
		CORSOrigins: cfg.CORSOrigins,
		Accounts:    handler.NewAccountHandler(commandSvc, querySvc),
		Transfers:   handler.NewTransferHandler(transferSvc),
		Health:      handler.NewHealthHandler(checks),
	})
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, /api routes are unauthenticated")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("ledger listening", zap.String("port", cfg.Port), zap.String("store", cfg.Store))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if redis != nil {
		hostname, _ := os.Hostname()
		subscriber := events.NewSubscriber(redis.Raw(), logger, events.SubscriberConfig{
			Group:    consumerGroup,
			Consumer: "ledger-" + hostname,
			Streams:  []string{events.AccountEventsStream, events.TransferEventsStream},
			Handler:  commandSvc.HandleLedgerEvent,
		})
		g.Go(func() error {
			if err := subscriber.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("subscriber stopped", zap.Error(err))
			}
			return nil
		})
	}

	return g.Wait()
}

// openStore returns the configured account store and its cleanup.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledgerStore, func(), error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store, balances are lost on restart")
		return repository.NewMemoryAccountStore(repository.WithLockTimeout(cfg.LockTimeout)), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrations.Apply(db, logger); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return repository.NewPostgresAccountStore(db, cfg.LockTimeout, logger), func() { _ = db.Close() }, nil
}
