package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/redmansion/progression-engine/config"
	"github.com/redmansion/progression-engine/internal/application/command"
	"github.com/redmansion/progression-engine/internal/application/eventhandler"
	"github.com/redmansion/progression-engine/internal/application/query"
	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
	"github.com/redmansion/progression-engine/internal/infrastructure/messaging"
	"github.com/redmansion/progression-engine/internal/infrastructure/metrics"
	"github.com/redmansion/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/redmansion/progression-engine/internal/infrastructure/persistence/postgres"
	"github.com/redmansion/progression-engine/internal/infrastructure/persistence/redis"
	"github.com/redmansion/progression-engine/internal/infrastructure/persistence/sqlite"
	"github.com/redmansion/progression-engine/pkg/logger"
	"github.com/redmansion/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION
// Everything one CLI invocation needs, built from config and torn down in
// reverse order by Close.
// ══════════════════════════════════════════════════════════════════════════════

type app struct {
	cfg *config.Config
	log *logger.Logger

	store    progression.Store
	postgres *postgres.Connection
	bus      *messaging.InMemoryEventBus

	award    *command.AwardXPHandler
	complete *command.RecordCompletionHandler
	reset    *command.ResetAccountHandler
	welcome  *command.GrantWelcomeBonusHandler
	batch    *command.BatchAwardHandler
	profile  *query.GetProfileHandler

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logger.New(logger.Options{
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    cfg.Observability.LogFormat,
		AddCaller: true,
	})
	if err != nil {
		return nil, err
	}
	log = log.With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)

	timeutil.SetReferenceZone(cfg.App.Location)

	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, func() error {
		log.Sync()
		return nil
	})

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	deps := command.Deps{
		Store:  a.store,
		Curve:  cfg.Progression.Curve,
		Logger: log,
	}

	if cfg.Observability.MetricsEnabled {
		deps.Metrics = metrics.New(prometheus.DefaultRegisterer)
		a.serveMetrics()
	}

	rdb, err := a.openRedis(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if rdb != nil && cfg.Features.Enabled(config.FeatureRedisLock) {
		deps.Locker = redis.NewUserLock(rdb, redis.UserLockConfig{
			TTL:         cfg.Redis.LockTTL,
			WaitTimeout: cfg.Redis.LockWait,
		}, log)
	}

	if deps.Publisher, err = a.eventPublisher(rdb); err != nil {
		a.Close()
		return nil, err
	}

	a.award = command.NewAwardXPHandler(deps, command.AwardXPHandlerConfig{
		MilestoneSources: cfg.Progression.MilestoneSources,
	})
	completeCfg := command.DefaultRecordCompletionHandlerConfig()
	if cfg.Progression.StreakMilestones != nil {
		completeCfg.Milestones = cfg.Progression.StreakMilestones
	}
	completeCfg.BonusEnabled = cfg.Features.ForUser(config.FeatureStreakBonus)
	a.complete = command.NewRecordCompletionHandler(deps, a.award, completeCfg)
	a.reset = command.NewResetAccountHandler(deps)
	a.welcome = command.NewGrantWelcomeBonusHandler(deps, a.award, cfg.Progression.WelcomeBonusXP)
	a.batch = command.NewBatchAwardHandler(a.award, command.BatchAwardConfig{
		Concurrency:   cfg.Progression.BatchConcurrency,
		RatePerSecond: cfg.Progression.BatchRatePerSecond,
	}, log)
	a.profile = query.NewGetProfileHandler(a.store, cfg.Progression.Curve)

	if err := a.subscribeStreakSources(); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Store
// ─────────────────────────────────────────────────────────────────────────────

func (a *app) openStore(ctx context.Context) error {
	sc := a.cfg.Store

	switch sc.Driver {
	case config.DriverMemory:
		a.log.Warn("using in-memory store, data is lost on exit")
		s := memory.NewStore()
		a.store = s
		a.closers = append(a.closers, func() error {
			a.log.Debug("discarding in-memory store", logger.Int("users", s.UserCount()))
			return nil
		})

	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, sc.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
		a.log.Debug("sqlite store opened", logger.String("path", s.Path()))

	case config.DriverPostgres:
		conn, err := postgres.Connect(ctx, sc.DatabaseURL, postgres.PoolConfig{
			MaxConns:        int32(sc.MaxConns),
			MinConns:        int32(sc.MinConns),
			MaxConnLifetime: sc.ConnMaxLifetime,
			MaxConnIdleTime: sc.ConnMaxIdleTime,
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.postgres = conn
		a.store = postgres.NewProgressionStore(conn)
		a.closers = append(a.closers, func() error {
			conn.Close()
			return nil
		})

	default:
		return fmt.Errorf("unknown store driver %q", sc.Driver)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Redis and events
// ─────────────────────────────────────────────────────────────────────────────

// openRedis returns nil when Redis is disabled.
func (a *app) openRedis(ctx context.Context) (*redis.Client, error) {
	rc := a.cfg.Redis
	if rc.Disabled {
		return nil, nil
	}

	opts := redis.DefaultConfig()
	opts.Host = rc.Host
	opts.Port = rc.Port
	opts.Password = rc.Password
	opts.DB = rc.DB
	opts.KeyPrefix = rc.KeyPrefix
	opts.PoolSize = rc.PoolSize
	opts.MinIdleConns = rc.MinIdleConns
	opts.DialTimeout = rc.DialTimeout
	opts.ReadTimeout = rc.ReadTimeout
	opts.WriteTimeout = rc.WriteTimeout

	client, err := redis.NewClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return client, nil
}

// eventPublisher builds the local bus, logs every event on it and puts the
// Redis channel in front when Redis is available. Events are off when the
// feature is disabled.
func (a *app) eventPublisher(rdb *redis.Client) (shared.EventPublisher, error) {
	if !a.cfg.Features.Enabled(config.FeatureEvents) {
		return shared.NopPublisher{}, nil
	}

	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.WorkerPoolSize = 4
	busCfg.Logger = a.log
	bus := messaging.NewInMemoryEventBus(busCfg)
	a.closers = append(a.closers, bus.Close)

	if err := bus.SubscribeAll(eventhandler.NewEventLogger(a.log).Handle); err != nil {
		return nil, err
	}
	a.bus = bus

	if rdb == nil {
		return bus, nil
	}
	pub, err := messaging.NewRedisPublisher(messaging.RedisPublisherConfig{
		Client:  rdb,
		Channel: rdb.Keys().EventsChannel(),
		Local:   bus,
		Logger:  a.log,
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// subscribeStreakSources lets awards from STREAK_SOURCES count as
// completions. It needs the local bus, so it is a no-op with events off.
func (a *app) subscribeStreakSources() error {
	if a.bus == nil {
		return nil
	}
	h := eventhandler.NewOnXPAwardedHandler(a.complete, eventhandler.XPAwardedConfig{
		StreakSources: a.cfg.Progression.StreakSources,
		Timeout:       a.cfg.Store.OperationTimeout,
	}, a.log)
	if !h.Enabled() {
		return nil
	}
	return a.bus.Subscribe(h.EventType(), h.Handle)
}

// ─────────────────────────────────────────────────────────────────────────────
// Metrics
// ─────────────────────────────────────────────────────────────────────────────

func (a *app) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              a.cfg.Observability.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", logger.Err(err))
		}
	}()
	a.log.Debug("metrics server listening", logger.String("addr", srv.Addr))

	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.App.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", logger.Err(err))
		}
	}
	a.closers = nil
}

// operationContext bounds one command against the store.
func (a *app) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Store.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.cfg.Store.OperationTimeout)
}
