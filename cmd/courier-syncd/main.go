package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	couriersync "github.com/goliatone/go-courier-sync"
	"github.com/goliatone/go-courier-sync/adapters/gologger"
	couriermigrations "github.com/goliatone/go-courier-sync/migrations"
	sqlstore "github.com/goliatone/go-courier-sync/store/sql"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const shutdownTimeout = 30 * time.Second

func main() {
	_, logger := gologger.Resolve("cmd", nil, nil)
	if err := run(logger); err != nil {
		logger.Error("courier-syncd stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger glog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	client, err := openPersistence(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return err
	}
	stores, err := couriersync.SQLStores(factory)
	if err != nil {
		return err
	}

	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = time.Minute
	workflowCache, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return fmt.Errorf("workflow cache: %w", err)
	}

	svc, err := couriersync.NewService(cfg, stores,
		couriersync.WithLogger(logger),
		couriersync.WithWorkflowCache(workflowCache),
		couriersync.WithHealthCheck(func(ctx context.Context) error {
			return client.DB().PingContext(ctx)
		}),
	)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      svc.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr, "driver", cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func openPersistence(ctx context.Context, cfg couriersync.Config) (*persistence.Client, error) {
	var (
		driverName string
		dialect    schema.Dialect
		migration  string
	)
	switch cfg.Database.Driver {
	case "postgres":
		driverName, dialect, migration = "postgres", pgdialect.New(), couriermigrations.DialectPostgres
	case "sqlite3", "sqlite":
		driverName, dialect, migration = "sqlite3", sqlitedialect.New(), couriermigrations.DialectSQLite
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	sqlDB, err := sql.Open(driverName, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	if driverName == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{cfg: cfg}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}

	err = couriermigrations.Register(ctx, func(_ context.Context, target string, _ string, fsys fs.FS) error {
		if target != migration {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, couriermigrations.WithValidationTargets(migration))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return client, nil
}
