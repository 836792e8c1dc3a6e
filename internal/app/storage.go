package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/timbouc/cart/internal/storage"
	"github.com/timbouc/cart/internal/storage/local"
	"github.com/timbouc/cart/internal/storage/memory"
	"github.com/timbouc/cart/internal/storage/postgres"
	redisstore "github.com/timbouc/cart/internal/storage/redis"
	"github.com/timbouc/cart/pkg/database"
	"github.com/timbouc/cart/pkg/health"
)

// healthProbeKey is looked up by the storage readiness check.
const healthProbeKey = "__health__"

// newStorageManager registers every driver and defines one storage per driver.
// Redis and PostgreSQL are only connected when they are the default storage.
func (a *App) newStorageManager(ctx context.Context, hh *health.Handler) (*storage.Manager, error) {
	cfg := a.cfg
	configs := map[string]storage.Config{
		local.Driver:  {Driver: local.Driver, Config: local.Config{Path: cfg.StorageFile}},
		memory.Driver: {Driver: memory.Driver},
	}

	switch cfg.StorageDefault {
	case redisstore.Driver:
		redisCfg := database.DefaultRedisConfig()
		redisCfg.URL = cfg.RedisURL
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPass
		redisCfg.DB = cfg.RedisDB
		redisCfg.PoolSize = cfg.RedisPoolSize

		rdb, err := database.NewRedisClient(ctx, redisCfg)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.rdb = rdb
		a.logger.Info("connected to Redis",
			slog.String("addr", rdb.Options().Addr),
			slog.Int("db", rdb.Options().DB),
		)
		configs[redisstore.Driver] = storage.Config{
			Driver: redisstore.Driver,
			Config: redisstore.Config{
				Client: rdb,
				Prefix: cfg.RedisPrefix,
				TTL:    time.Duration(cfg.CartTTL) * time.Hour,
			},
		}
		hh.Register("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})

	case postgres.Driver:
		pgCfg := database.DefaultPostgresConfig()
		pgCfg.Host = cfg.PostgresHost
		pgCfg.Port = cfg.PostgresPort
		pgCfg.User = cfg.PostgresUser
		pgCfg.Password = cfg.PostgresPass
		pgCfg.DBName = cfg.PostgresDB
		pgCfg.SSLMode = cfg.PostgresSSL
		pgCfg.MaxConns = cfg.DBMaxConns
		pgCfg.MinConns = cfg.DBMinConns

		pool, err := database.NewPostgresPoolWithLogger(ctx, &pgCfg, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.pool = pool
		a.logger.Info("connected to PostgreSQL",
			slog.String("host", cfg.PostgresHost),
			slog.Int("port", cfg.PostgresPort),
			slog.String("database", cfg.PostgresDB),
		)
		if err := database.RegisterPoolMetrics(nil, pool, "cart"); err != nil {
			a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
		}

		if err := database.RunMigrations(ctx, pool, postgres.Migrations(), a.logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		a.logger.Info("database migrations completed")

		db := database.NewTracedDB(pool, database.TraceOptions{
			SlowThreshold: time.Duration(cfg.SlowQueryThresholdMs) * time.Millisecond,
			Logger:        a.logger,
		})
		configs[postgres.Driver] = storage.Config{Driver: postgres.Driver, Config: postgres.Config{DB: db}}
		hh.Register("postgres", func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
	}

	manager := storage.NewManager(cfg.StorageDefault, configs)
	manager.RegisterDriver(local.Driver, local.Factory)
	manager.RegisterDriver(memory.Driver, memory.Factory)
	manager.RegisterDriver(redisstore.Driver, a.withBreaker(redisstore.Driver, redisstore.Factory))
	manager.RegisterDriver(postgres.Driver, a.withBreaker(postgres.Driver, postgres.Factory))

	// Resolve the default now so a bad config fails at startup.
	store, err := manager.Storage("")
	if err != nil {
		return nil, fmt.Errorf("init %s storage: %w", cfg.StorageDefault, err)
	}
	hh.Register("storage", func(ctx context.Context) error {
		_, err := store.Has(ctx, healthProbeKey)
		return err
	})

	a.logger.Info("cart storage ready",
		slog.String("default", cfg.StorageDefault),
		slog.Any("drivers", manager.Drivers()),
	)
	return manager, nil
}

// withBreaker wraps a remote driver's storages in a circuit breaker.
func (a *App) withBreaker(name string, factory storage.Factory) storage.Factory {
	cfg := a.cfg
	return func(config any) (storage.Storage, error) {
		s, err := factory(config)
		if err != nil {
			return nil, err
		}
		return storage.NewBreaker(s, storage.BreakerConfig{
			Name:         "storage-" + name,
			MaxRequests:  cfg.CBMaxRequests,
			Interval:     time.Duration(cfg.CBInterval) * time.Second,
			Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
			FailureRatio: cfg.CBFailureRatio,
			MinRequests:  cfg.CBMinRequests,
		}, a.logger), nil
	}
}
