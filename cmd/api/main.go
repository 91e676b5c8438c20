package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/fredInvest/pkg/accrual"
	"github.com/mcclellann/fredInvest/pkg/clock"
	"github.com/mcclellann/fredInvest/pkg/config"
	"github.com/mcclellann/fredInvest/pkg/ledger"
	"github.com/mcclellann/fredInvest/pkg/lock"
	"github.com/mcclellann/fredInvest/pkg/logging"
	"github.com/mcclellann/fredInvest/pkg/notify"
	"github.com/mcclellann/fredInvest/pkg/plans"
	"github.com/mcclellann/fredInvest/pkg/store"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const notifyBuffer = 256

func openStorage(cfg config.StorageConfig) (store.Storage, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// newLocker returns a Redis lease lock when an address is configured, so that
// several replicas never run the accrual pass at the same time.
func newLocker(ctx context.Context, cfg config.RedisConfig, log *logging.Logger) (lock.Locker, func(), error) {
	if cfg.Addr == "" {
		return lock.NewLocal(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Addr, err)
	}
	log.Info().Str("addr", cfg.Addr).Dur("ttl", cfg.GetLockTTL()).Msg("Using redis accrual lock")
	return lock.NewRedis(rdb, cfg.GetLockTTL()), func() { rdb.Close() }, nil
}

func run(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	storage, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", cfg.Storage.Driver, err)
	}
	defer storage.Close()

	locker, closeLocker, err := newLocker(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	maturity, err := accrual.ParseMaturityPolicy(cfg.Accrual.MaturityPolicy)
	if err != nil {
		return err
	}

	notifier := notify.NewAsync(notify.NewLog(log), notifyBuffer, log)
	defer notifier.Close()

	c := clock.Real{}
	policy := plans.NewPolicy(cfg.Investment.GetHorizon(), plans.DefaultPolicy().Plans()...)
	l := ledger.NewLedger(storage,
		ledger.WithPolicy(policy),
		ledger.WithClock(c),
		ledger.WithNotifier(notifier),
		ledger.WithLogger(log),
	)
	processor := accrual.NewProcessor(storage,
		accrual.WithNotifier(notifier),
		accrual.WithLogger(log),
		accrual.WithMaturityPolicy(maturity),
		accrual.WithClock(c),
	)
	scheduler := accrual.NewScheduler(processor, c, cfg.Accrual.GetPollInterval(), locker, log)

	limiter := rate.NewLimiter(rate.Limit(cfg.API.RateLimit), cfg.API.Burst)
	server := NewServer(l, scheduler, storage, limiter, log)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		scheduler.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	<-schedDone
	return nil
}

func main() {
	configPath := flag.String("config", os.Getenv("FREDINVEST_CONFIG"), "path to the TOML config file")
	flag.Parse()
	if *configPath == "" {
		*configPath = "fredinvest.toml"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server exited")
	}
}
