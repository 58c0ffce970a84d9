package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-donations/adapters/gocommand"
	"github.com/goliatone/go-donations/adapters/gojob"
	"github.com/goliatone/go-donations/adapters/gologger"
	logrusadapter "github.com/goliatone/go-donations/adapters/logrus"
	promadapter "github.com/goliatone/go-donations/adapters/prometheus"
	donationcommand "github.com/goliatone/go-donations/command"
	"github.com/goliatone/go-donations/core"
	donationmigrations "github.com/goliatone/go-donations/migrations"
	"github.com/goliatone/go-donations/openpayments"
	"github.com/goliatone/go-donations/security"
	redisstore "github.com/goliatone/go-donations/store/redis"
	sqlstore "github.com/goliatone/go-donations/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	storePingAttempts = 5
	storePingDelay    = 500 * time.Millisecond
	storePingTimeout  = 5 * time.Second
)

// runtime is everything a subcommand needs once config is loaded.
type runtime struct {
	config        AppConfig
	logger        *logrusadapter.Logger
	provider      *logrusadapter.Provider
	redis         *redis.Client
	registry      *prometheus.Registry
	service       *core.Service
	commands      *gocommand.RegistryAdapter
	subscriptions []commanddispatcher.Subscription
	health        func(context.Context) error
	closers       []func() error
}

func newLogger(cfg LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("config: log.level: %w", err)
	}
	logger.SetLevel(level)
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("config: log.format %q is not supported", cfg.Format)
	}
	return logger, nil
}

func buildRuntime(ctx context.Context, cfg AppConfig, base *logrus.Logger) (rt *runtime, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	provider := logrusadapter.NewProvider(base)
	rt = &runtime{
		config:   cfg,
		logger:   logrusadapter.New(base),
		provider: provider,
		registry: prometheus.NewRegistry(),
		health:   func(context.Context) error { return nil },
	}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	secrets, err := buildSecrets(cfg.Security)
	if err != nil {
		return rt, err
	}
	store, err := rt.buildStore(ctx, secrets)
	if err != nil {
		return rt, err
	}
	payments, err := openpayments.NewClient(cfg.OpenPayments,
		openpayments.WithLogger(provider.GetLogger("openpayments")),
	)
	if err != nil {
		return rt, err
	}

	serviceProvider, serviceLogger := gologger.Resolve(cfg.Donations.ServiceName, provider, rt.logger)
	opts := []core.Option{
		core.WithLogger(serviceLogger),
		core.WithLoggerProvider(serviceProvider),
		core.WithPaymentsClient(payments),
		core.WithPendingGrantStore(store),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, core.WithMetricsRecorder(
			promadapter.NewRecorder(rt.registry, promadapter.WithNamespace(cfg.Metrics.Namespace)),
		))
	}
	rt.service, err = core.NewService(cfg.Donations, opts...)
	if err != nil {
		return rt, err
	}

	rt.commands = gocommand.NewRegistryAdapter(gocmd.NewRegistry())
	rt.subscriptions, err = gocommand.RegisterDonationHandlers(rt.commands, rt.service)
	if err != nil {
		return rt, err
	}
	if err = rt.commands.Initialize(); err != nil {
		return rt, err
	}
	return rt, nil
}

func (r *runtime) Close() error {
	if r == nil {
		return nil
	}
	for _, sub := range r.subscriptions {
		sub.Unsubscribe()
	}
	r.subscriptions = nil
	var firstErr error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.closers = nil
	return firstErr
}

func buildSecrets(cfg SecurityConfig) (core.SecretProvider, error) {
	if strings.TrimSpace(cfg.Active.Material) == "" {
		return nil, nil
	}
	ring := security.NewKeyRing()
	if err := addKey(ring, cfg.Active, 1); err != nil {
		return nil, err
	}
	for _, retired := range cfg.Retired {
		if err := addKey(ring, retired, 0); err != nil {
			return nil, err
		}
	}
	return ring, nil
}

func addKey(ring *security.KeyRing, key KeyConfig, fallbackVersion int) error {
	opts := []security.Option{}
	if id := strings.TrimSpace(key.ID); id != "" {
		opts = append(opts, security.WithKeyID(id))
	}
	version := key.Version
	if version <= 0 {
		version = fallbackVersion
	}
	if version > 0 {
		opts = append(opts, security.WithVersion(version))
	}
	provider, err := security.NewAppKeySecretProviderFromString(key.Material, opts...)
	if err != nil {
		return err
	}
	window, err := rotationWindow(key)
	if err != nil {
		return err
	}
	return ring.Add(provider, window)
}

func rotationWindow(key KeyConfig) (security.KeyRotationWindow, error) {
	var window security.KeyRotationWindow
	if raw := strings.TrimSpace(key.NotBefore); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return window, fmt.Errorf("config: key %q not_before: %w", key.ID, err)
		}
		window.NotBefore = ts
	}
	if raw := strings.TrimSpace(key.NotAfter); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return window, fmt.Errorf("config: key %q not_after: %w", key.ID, err)
		}
		window.NotAfter = ts
	}
	return window, nil
}

func (r *runtime) buildStore(ctx context.Context, secrets core.SecretProvider) (core.PendingGrantStore, error) {
	cfg := r.config
	ttl := cfg.Donations.PendingGrantTTLDuration()
	switch cfg.StoreDriver() {
	case StoreRedis:
		return r.buildRedisStore(ctx, secrets, ttl)
	case StorePostgres, StoreSQLite:
		return r.buildSQLStore(ctx, secrets, ttl)
	default:
		r.logger.Warn("using in-memory pending grant store; pending donations do not survive restarts")
		return core.NewMemoryPendingGrantStoreWithLimits(ttl, cfg.Store.MaxEntries), nil
	}
}

// redisClient connects once and is shared by the redis store and the purge
// job queue.
func (r *runtime) redisClient(ctx context.Context) (*redis.Client, error) {
	if r.redis != nil {
		return r.redis, nil
	}
	cfg := r.config.Store
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	r.closers = append(r.closers, client.Close)
	if err := r.waitForStore(ctx, "redis", r.pingRedis(client)); err != nil {
		return nil, err
	}
	r.redis = client
	return client, nil
}

func (r *runtime) pingRedis(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func (r *runtime) buildRedisStore(ctx context.Context, secrets core.SecretProvider, ttl time.Duration) (core.PendingGrantStore, error) {
	cfg := r.config.Store
	client, err := r.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	r.health = r.pingRedis(client)
	return redisstore.NewPendingGrantStore(client,
		redisstore.WithKeyPrefix(cfg.KeyPrefix),
		redisstore.WithSecretProvider(secrets),
		redisstore.WithTTL(ttl),
	)
}

func (r *runtime) buildSQLStore(ctx context.Context, secrets core.SecretProvider, ttl time.Duration) (core.PendingGrantStore, error) {
	cfg := r.config.Store
	driver, dialect, migrationDialect := "postgres", schema.Dialect(pgdialect.New()), donationmigrations.DialectPostgres
	if r.config.StoreDriver() == StoreSQLite {
		driver, dialect, migrationDialect = "sqlite3", sqlitedialect.New(), donationmigrations.DialectSQLite
	}
	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	r.closers = append(r.closers, sqlDB.Close)
	if err := r.waitForStore(ctx, driver, sqlDB.PingContext); err != nil {
		return nil, err
	}

	client, err := persistence.New(persistenceConfig{driver: driver, dsn: cfg.DSN}, sqlDB, dialect)
	if err != nil {
		return nil, fmt.Errorf("store: persistence client: %w", err)
	}
	if cfg.Migrate {
		if _, err := donationmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
			if dialect != migrationDialect {
				return nil
			}
			client.RegisterSQLMigrations(fsys)
			return nil
		}, donationmigrations.WithValidationTargets(migrationDialect)); err != nil {
			return nil, err
		}
		if err := client.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("store: migrate: %w", err)
		}
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client,
		sqlstore.WithSecretProvider(secrets),
		sqlstore.WithPendingGrantTTL(ttl),
	)
	if err != nil {
		return nil, err
	}
	r.health = sqlDB.PingContext
	return factory.PendingGrantStore(), nil
}

// purgeLoops returns what keeps expired pending grants in check: the
// in-process janitor, or a go-job scheduler and worker sharing a redis queue
// with the other replicas.
func (r *runtime) purgeLoops(ctx context.Context) ([]func(context.Context) error, error) {
	interval := r.config.Donations.PurgeIntervalDuration()
	if r.config.Purge.ModeName() != PurgeModeJob {
		janitor := core.NewPendingGrantJanitor(
			busPurger{},
			interval,
			r.logger.WithFields(map[string]any{"component": "janitor"}),
		)
		return []func(context.Context) error{janitor.Run}, nil
	}

	cfg := r.config.Purge
	client, err := r.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	q, err := gojob.NewRedisQueue(client,
		gojob.WithQueuePrefix(cfg.QueuePrefix),
		gojob.WithPollInterval(cfg.PollIntervalDuration()),
		gojob.WithDedupWindow(interval),
	)
	if err != nil {
		return nil, err
	}
	_, logger, _, _ := gologger.ResolveForJob("purge_job", r.provider, r.logger)
	scheduler, err := gojob.NewPurgeScheduler(gojob.NewEnqueuer(q), interval, logger)
	if err != nil {
		return nil, err
	}
	worker, err := gojob.NewPurgeWorker(
		gojob.NewDequeuer(q, gojob.RetryPolicy{
			MaxAttempts:     cfg.MaxAttempts,
			MaxDelay:        interval,
			DeadLetterOnMax: true,
		}),
		busPurger{},
		gojob.WithPurgeWorkerLogger(logger),
		gojob.WithPurgeRetryDelay(cfg.RetryDelayDuration()),
	)
	if err != nil {
		return nil, err
	}
	return []func(context.Context) error{scheduler.Run, worker.Run}, nil
}

func (r *runtime) waitForStore(ctx context.Context, name string, ping func(context.Context) error) error {
	err := retry.Do(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
			defer cancel()
			return ping(pingCtx)
		},
		retry.Context(ctx),
		retry.Attempts(storePingAttempts),
		retry.Delay(storePingDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("store not reachable yet", "store", name, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("store: %s unreachable: %w", name, err)
	}
	return nil
}

type persistenceConfig struct {
	driver string
	dsn    string
}

func (c persistenceConfig) GetDebug() bool { return false }

func (c persistenceConfig) GetDriver() string { return c.driver }

func (c persistenceConfig) GetServer() string { return c.dsn }

func (c persistenceConfig) GetPingTimeout() time.Duration { return storePingTimeout }

func (c persistenceConfig) GetOtelIdentifier() string { return "go-donations" }

// busPurger sends purges through the command bus so the janitor shares the
// handler pipeline with the CLI and API.
type busPurger struct{}

func (busPurger) PurgeExpiredPendingGrants(ctx context.Context) (core.PurgeResult, error) {
	collector := gocmd.NewResult[core.PurgeResult]()
	if err := gocommand.Dispatch(gocmd.ContextWithResult(ctx, collector), donationcommand.PurgePendingGrantsMessage{}); err != nil {
		return core.PurgeResult{}, err
	}
	result, _ := collector.Load()
	return result, nil
}
