package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/timbouc/cart/internal/compute"
	"github.com/timbouc/cart/internal/config"
	"github.com/timbouc/cart/internal/event"
	handler "github.com/timbouc/cart/internal/handler/http"
	"github.com/timbouc/cart/internal/loader"
	"github.com/timbouc/cart/internal/rules"
	"github.com/timbouc/cart/internal/service"
	"github.com/timbouc/cart/pkg/health"
	pkgkafka "github.com/timbouc/cart/pkg/kafka"
	"github.com/timbouc/cart/pkg/middleware"
	"github.com/timbouc/cart/pkg/tracing"
)

// App wires together all dependencies and runs the cart service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	rdb            *redis.Client
	pool           *pgxpool.Pool
	producer       *pkgkafka.Producer
	registry       *service.Registry
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	traceCfg := tracing.DefaultConfig("cart")
	traceCfg.Environment = cfg.Environment
	traceCfg.OTLPEndpoint = cfg.OTELEndpoint
	traceCfg.SampleRate = cfg.OTELSampleRate
	traceCfg.Enabled = cfg.OTELEnabled

	tracerShutdown, err := tracing.InitTracer(ctx, traceCfg)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	a := &App{
		cfg:            cfg,
		logger:         logger,
		tracerShutdown: tracerShutdown,
	}

	// Storage backends. Only the configured remote backend is connected.
	healthHandler := health.NewHandler()
	storages, err := a.newStorageManager(ctx, healthHandler)
	if err != nil {
		return a.abort(err)
	}

	// Condition rule and compute engine.
	hook, err := rules.HookFor(cfg.ConditionRule)
	if err != nil {
		return a.abort(fmt.Errorf("compile condition rule: %w", err))
	}
	engine := compute.New(compute.WithConditionHook(hook))
	if hook != nil {
		logger.Info("condition rule enabled", slog.String("rule", cfg.ConditionRule))
	}

	// Initialize Kafka producer when brokers are configured.
	cartOpts := service.Options{
		Engine: engine,
		Logger: logger,
		Loader: loader.Options{
			ReadWait:  time.Duration(cfg.ReadThrottleMs) * time.Millisecond,
			WriteWait: time.Duration(cfg.WriteThrottleMs) * time.Millisecond,
			Logger:    logger,
		},
	}
	if cfg.EventsEnabled() {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		cartOpts.Events = event.NewProducer(a.producer, logger)
		healthHandler.RegisterOptional("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		logger.Info("kafka brokers not configured, cart events disabled")
	}

	// Build the dependency graph.
	a.registry = service.NewRegistry(func(session string) (*service.Cart, error) {
		return service.NewCart(storages, session, cartOpts)
	}, time.Duration(cfg.SessionIdleMinutes)*time.Minute, logger)

	// HTTP router.
	router := handler.NewRouter(a.registry, healthHandler, logger, handler.RouterConfig{
		Environment:    cfg.Environment,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit: middleware.RateLimitConfig{
			RPS:     cfg.RateLimitRPS,
			Burst:   cfg.RateLimitBurst,
			IdleTTL: time.Duration(cfg.SessionIdleMinutes) * time.Minute,
		},
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Run starts the HTTP server and the idle session sweeper, and blocks until
// the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.registry.Run(sweepCtx)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
			slog.String("storage", a.cfg.StorageDefault),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	stopSweep()
	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Cart sessions (flush buffered writes)
// 3. Tracer (flush pending spans)
// 4. Kafka producer and storage connections
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Persist throttled writes before the storage connections go away.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := a.registry.Close(flushCtx); err != nil {
		a.logger.Error("cart session flush error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 3. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Close Kafka producer and storage connections.
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if err := a.closeBackends(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeBackends() error {
	var err error
	if a.rdb != nil {
		if err = a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return err
}

// abort releases what NewApp acquired before failing.
func (a *App) abort(err error) (*App, error) {
	_ = a.closeBackends()
	_ = a.tracerShutdown(context.Background())
	return nil, err
}
