package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/service"
	"github.com/aussiebroadwan/twofactor/internal/twofactor/store"
	pgstore "github.com/aussiebroadwan/twofactor/internal/twofactor/store/drivers/postgres"
	redisstore "github.com/aussiebroadwan/twofactor/internal/twofactor/store/drivers/redis"
	"github.com/aussiebroadwan/twofactor/internal/twofactor/store/drivers/sqlite"
	"github.com/aussiebroadwan/twofactor/pkg/cryptox"
	"github.com/aussiebroadwan/twofactor/pkg/otpx"
	"github.com/aussiebroadwan/twofactor/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application holds the configured store and the services built on it.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db       store.Store
	engine   *otpx.Engine
	sealer   service.Sealer
	registry *prometheus.Registry
	metrics  *service.Metrics

	lifecycleService    *service.LifecycleService
	housekeepingService *service.HousekeepingService
	policy              *service.Policy
}

// New connects the configured store and wires the services. Close releases
// the store.
func New(ctx context.Context, cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "twofactor",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  cfg.LogOutput,
		}),
	}

	opts, err := cfg.OTPOptions()
	if err != nil {
		return nil, err
	}
	app.engine = otpx.New(opts)

	if err := app.initSealer(); err != nil {
		return nil, err
	}

	if err := app.initStore(ctx); err != nil {
		return nil, err
	}

	app.initMetrics()
	app.initServices(opts)
	return app, nil
}

func (app *Application) Lifecycle() *service.LifecycleService {
	return app.lifecycleService
}

func (app *Application) Housekeeping() *service.HousekeepingService {
	return app.housekeepingService
}

func (app *Application) Policy() *service.Policy { return app.policy }

func (app *Application) Engine() *otpx.Engine { return app.engine }

func (app *Application) Logger() *slog.Logger { return app.logger }

// Registry holds the lifecycle and runtime collectors.
func (app *Application) Registry() *prometheus.Registry { return app.registry }

// Close flushes metrics to TWOFACTOR_METRICS_FILE when configured and
// releases the store connection.
func (app *Application) Close() error {
	var errs []error
	if app.cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(app.cfg.MetricsFile, app.registry); err != nil {
			app.logger.Error("error writing metrics file", "file", app.cfg.MetricsFile, "error", err)
			errs = append(errs, err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// initSealer enables secret sealing when a master key is configured.
func (app *Application) initSealer() error {
	key, err := cryptox.LoadMasterKey(app.cfg.MasterKeyPath, app.cfg.MasterKey)
	if err != nil {
		return fmt.Errorf("failed to load master key: %w", err)
	}
	if key == nil {
		app.logger.Warn("no master key configured, two-factor secrets are stored unsealed")
		return nil
	}

	sealer, err := cryptox.NewSealer(key)
	if err != nil {
		return fmt.Errorf("failed to initialize sealer: %w", err)
	}
	app.sealer = sealer
	return nil
}

// initStore opens the configured backend and applies migrations where the
// backend has a schema.
func (app *Application) initStore(ctx context.Context) error {
	switch strings.ToLower(app.cfg.Store) {
	case StoreRedis:
		client, err := redisstore.Connect(ctx, redisstore.ConnectConfig{
			URL:            app.cfg.RedisURL,
			RetryAttempts:  app.cfg.RedisRetryAttempts,
			RetryInterval:  app.cfg.RedisRetryInterval,
			ConnectTimeout: app.cfg.RedisConnectTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}

		// Keep overdue setups around long enough to report them as expired
		app.db = redisstore.NewStore(client, redisstore.Options{
			Prefix:           app.cfg.RedisPrefix,
			PendingRetention: 2 * app.cfg.PendingTTL,
		})
		app.logger.Info("redis store connected")

	case StorePostgres:
		pool, err := pgstore.Connect(ctx, pgstore.ConnectConfig{
			ConnectionString: app.cfg.PGConnURL,
			MaxConns:         app.cfg.PGMaxConns,
			RetryAttempts:    app.cfg.PGRetryAttempts,
			RetryInterval:    app.cfg.PGRetryInterval,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}

		db := pgstore.NewStore(pool, app.cfg.PGConnURL)
		if err := db.ApplyMigrations(); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply database migrations: %w", err)
		}
		app.db = db
		app.logger.Info("postgres store connected")

	default:
		db, err := sqlite.NewStore(sqlite.FileDSN(app.cfg.DatabaseFile))
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}

		if err := db.ApplyMigrations(); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply database migrations: %w", err)
		}
		app.db = db
		app.logger.Debug("database migrations applied successfully", "file", app.cfg.DatabaseFile)
	}

	return nil
}

func (app *Application) initMetrics() {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(collectors.NewGoCollector())
	app.metrics = service.NewMetrics(app.registry)
}

func (app *Application) initServices(opts otpx.Options) {
	app.lifecycleService = &service.LifecycleService{
		Store:         app.db,
		Secrets:       &service.SecretManager{Options: opts},
		Engine:        app.engine,
		Sealer:        app.sealer,
		Logger:        app.logger,
		Metrics:       app.metrics,
		Issuer:        app.cfg.Issuer,
		SecretBytes:   app.cfg.SecretBytes,
		RecoveryCodes: app.cfg.RecoveryCodes,
		PendingTTL:    app.cfg.PendingTTL,
		StoreTimeout:  app.cfg.StoreTimeout,
		RejectReplay:  app.cfg.RejectReplay,
	}

	app.housekeepingService = &service.HousekeepingService{
		Store:      app.db,
		Logger:     app.logger,
		Metrics:    app.metrics,
		PendingTTL: app.cfg.PendingTTL,
	}

	app.policy = service.NewPolicy(app.cfg.EnforcedRoles)
}
