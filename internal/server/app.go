// Package server wires configuration, storage backends, the auth service and
// the hosting servers into one runnable application. Auth operations are
// invoked in-process through App.Service; no network handlers expose them.
package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/authkeeper/internal/server/password"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"

	gs "github.com/dmitrijs2005/authkeeper/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	manager  repomanager.RepositoryManager
	codec    *auth.Codec
	service  *services.AuthService
	registry *prometheus.Registry
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "invalid configuration")
	}

	codec, err := auth.NewCodec([]byte(c.SecretKey))
	if err != nil {
		return nil, err
	}

	hasher, err := password.New(c.PasswordConfig())
	if err != nil {
		return nil, err
	}

	manager, err := newRepositoryManager(ctx, c)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	svc := services.NewAuthService(manager, hasher, codec, c,
		services.WithLogger(logger),
		services.WithMetrics(m),
	)

	return &App{
		config:   c,
		logger:   logger,
		manager:  manager,
		codec:    codec,
		service:  svc,
		registry: registry,
	}, nil
}

func newRepositoryManager(ctx context.Context, c *config.Config) (repomanager.RepositoryManager, error) {
	var base repomanager.RepositoryManager

	switch c.StoreBackend {
	case config.BackendMemory:
		base = repomanager.NewInMemoryRepositoryManager()
	default:
		db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		base = repomanager.NewPostgresRepositoryManager(db)
	}

	if c.SessionBackend != config.BackendRedis {
		return base, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		_ = base.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", c.RedisAddr).Wrapf(err, "ping redis")
	}

	return repomanager.NewRedisSessionManager(base, rdb, c.RedisPrefix), nil
}

// Service is the call surface for Signup, Login, the password flows and
// RefreshTokens. The gRPC host only authenticates calls for services that
// consumers register, so embedding hosts reach these operations in-process.
func (app *App) Service() *services.AuthService {
	return app.service
}

func (app *App) Migrate(ctx context.Context) error {
	if err := app.manager.RunMigrations(ctx); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	return nil
}

// Purge deletes expired refresh and reset tokens once.
func (app *App) Purge(ctx context.Context) (int64, error) {
	n, err := app.manager.PurgeExpired(ctx, time.Now())
	if err != nil {
		return 0, oops.Code("PURGE_FAILED").With("operation", "purge expired tokens").Wrap(err)
	}
	return n, nil
}

func (app *App) Close() error {
	return app.manager.Close()
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

func (app *App) runPurger(ctx context.Context) {
	if app.config.PurgeInterval <= 0 {
		return
	}

	ticker := time.NewTicker(app.config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.Purge(ctx)
			if err != nil {
				app.logger.Error(ctx, "purge expired tokens", logging.ErrorAttrs(err)...)
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "purged expired tokens", "count", n)
			}
		}
	}
}

// Run applies migrations, then serves gRPC, metrics and the periodic purge
// until ctx is cancelled, a termination signal arrives or a server fails.
// It returns the first server error, if any.
func (app *App) Run(ctx context.Context, registrars ...gs.Registrar) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	if err := app.Migrate(ctx); err != nil {
		return err
	}

	app.initSignalHandler(ctx, cancelFunc)

	grpcServer := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.codec, app.service, app.config.PublicMethods)
	for _, r := range registrars {
		grpcServer.Register(r)
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := grpcServer.Run(ctx); err != nil {
			fail(err)
		}
	}()

	if app.config.EndpointAddrMetrics != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.NewServer(app.config.EndpointAddrMetrics, app.registry, app.logger).Run(ctx); err != nil {
				fail(err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runPurger(ctx)
	}()

	wg.Wait()
	app.logger.Info(context.Background(), "App stopped")

	if firstErr != nil && !errors.Is(firstErr, context.Canceled) {
		return firstErr
	}
	return nil
}
