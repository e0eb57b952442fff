package initializer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/amirasaad/coopcredit/infra"
	"github.com/amirasaad/coopcredit/infra/cache"
	infra_eventbus "github.com/amirasaad/coopcredit/infra/eventbus"
	infra_limits "github.com/amirasaad/coopcredit/infra/limits"
	"github.com/amirasaad/coopcredit/infra/parameters"
	infra_repository "github.com/amirasaad/coopcredit/infra/repository"
	"github.com/amirasaad/coopcredit/infra/scheduler"
	"github.com/amirasaad/coopcredit/pkg/app"
	"github.com/amirasaad/coopcredit/pkg/config"
	"github.com/amirasaad/coopcredit/pkg/eventbus"
	"github.com/amirasaad/coopcredit/pkg/limits"
	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/amirasaad/coopcredit/pkg/policy"
	"github.com/amirasaad/coopcredit/pkg/withdrawal"
	"github.com/redis/go-redis/v9"
)

// Runtime holds the dependencies plus what the process must start and stop
// around them.
type Runtime struct {
	Deps      *app.Deps
	Reloader  *parameters.Reloader
	Scheduler *scheduler.Scheduler
	Location  *time.Location

	purger  interface{ Purge(limits.Day) int }
	closers []io.Closer
}

// Close releases every connection opened by InitializeDependencies, newest first.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InitializeDependencies initializes all the application dependencies
func InitializeDependencies(cfg *config.App) (_ *Runtime, err error) {
	logger := setupLogger(cfg.Log)

	loc, err := cfg.Policy.Location()
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Deps: &app.Deps{Logger: logger}, Location: loc}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	rt.Deps.Params = policy.NewStore(loc, logger)

	// Initialize accounts and ledger
	if cfg.DB != nil && cfg.DB.Url != "" {
		db, err := infra.NewDBConnection(cfg.DB, cfg.Env)
		if err != nil {
			logger.Error("Failed to initialize database", "error", err)
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			rt.closers = append(rt.closers, sqlDB)
		}
		if cfg.DB.AutoMigrate {
			if err := infra.Migrate(db); err != nil {
				return nil, err
			}
		}
		rt.Deps.Accounts = infra_repository.NewAccountRepository(db)
		rt.Deps.Ledger = infra_repository.NewLedger(db)
	} else {
		logger.Warn("DATABASE_URL is not set, using in-memory accounts")
		store := infra_repository.NewMemoryStore()
		if cfg.IsDevelopment() {
			seedDevelopmentAccounts(store)
		}
		rt.Deps.Accounts = store
		rt.Deps.Ledger = store
	}

	// Initialize limit aggregator
	var client *redis.Client
	switch strings.ToLower(cfg.Policy.Aggregator) {
	case "", "memory":
		agg := limits.NewMemoryAggregator(logger, limits.WithLockTimeout(cfg.Policy.LockTimeout))
		rt.Deps.Aggregator = agg
		rt.purger = agg
	case "redis":
		c, err := infra.NewRedisClient(cfg.Redis.URL, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis aggregator: %w", err)
		}
		client = c
		rt.closers = append(rt.closers, c)
		rt.Deps.Aggregator = infra_limits.NewRedisAggregator(
			c,
			cfg.Redis.KeyPrefix+cfg.Policy.AggregatorPrefix,
			cfg.Policy.Retention(),
			cfg.Policy.LockTimeout,
			logger,
		)
		rt.Deps.Decisions = cache.NewRedisDecisionCache(
			c,
			cfg.Redis.KeyPrefix+cfg.Policy.DecisionPrefix,
			cfg.Policy.Retention(),
			logger,
		)
	default:
		return nil, fmt.Errorf("unsupported POLICY_AGGREGATOR %q", cfg.Policy.Aggregator)
	}

	// Initialize event bus
	bus, err := initEventBus(cfg, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := bus.(io.Closer); ok {
		rt.closers = append(rt.closers, c)
	}
	rt.Deps.EventBus = bus

	// Initialize parameter source and publish the first snapshot
	source := parameterSource(cfg, client)
	rt.Reloader = parameters.NewReloader(rt.Deps.Params, source, bus, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Reloader.Bootstrap(ctx, parameters.DefaultSource{}); err != nil {
		return nil, fmt.Errorf("failed to load withdrawal parameters: %w", err)
	}

	// Initialize periodic jobs
	rt.Scheduler = scheduler.New(loc, logger)
	if err := rt.Scheduler.Register("parameters-reload", cfg.Policy.ReloadSchedule, func(ctx context.Context) error {
		_, err := rt.Reloader.Reload(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if rt.purger != nil {
		if err := rt.Scheduler.Register("aggregates-purge", cfg.Policy.PurgeSchedule, func(ctx context.Context) error {
			cutoff := limits.DayOf(time.Now(), loc).AddDays(-cfg.Policy.RetentionDays)
			n := rt.purger.Purge(cutoff)
			logger.Info("daily aggregates purged", "cutoff", cutoff, "purged", n)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	return rt, nil
}

// RegisterAppJobs schedules the jobs that need the assembled app.
func RegisterAppJobs(rt *Runtime, a *app.App) error {
	retention := a.Config.Policy.Retention()
	return rt.Scheduler.Register("idempotency-purge", a.Config.Policy.PurgeSchedule, func(ctx context.Context) error {
		n := a.Withdrawals.Purge(time.Now().Add(-retention))
		a.Deps.Logger.Info("remembered decisions purged", "purged", n)
		return nil
	})
}

// initEventBus builds the bus named by EVENT_BUS_DRIVER. An unreachable
// Redis or Kafka falls back to the in-process asynchronous bus.
func initEventBus(cfg *config.App, logger *slog.Logger) (eventbus.Bus, error) {
	ebc := cfg.EventBus
	if ebc == nil {
		ebc = &config.EventBus{}
	}
	bufferSize := ebc.BufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}
	fallback := func(reason error) eventbus.Bus {
		logger.Warn("⚠️ Event bus unavailable, falling back to in-memory async bus",
			"driver", ebc.Driver, "error", reason)
		return infra_eventbus.NewWithMemoryAsync(logger, bufferSize)
	}

	switch strings.ToLower(ebc.Driver) {
	case "", "memory":
		return infra_eventbus.NewWithMemoryAsync(logger, bufferSize), nil
	case "memory-sync":
		return infra_eventbus.NewWithMemory(logger), nil
	case "redis":
		url := ebc.RedisURL
		if url == "" && cfg.Redis != nil {
			url = cfg.Redis.URL
		}
		if url == "" {
			return nil, errors.New("EVENT_BUS_DRIVER=redis requires EVENT_BUS_REDIS_URL or REDIS_URL")
		}
		client, err := infra.NewRedisClient(url, cfg.Redis)
		if err != nil {
			return fallback(err), nil
		}
		bus, err := infra_eventbus.NewWithRedis(client, ebc.StreamMaxLen, logger)
		if err != nil {
			_ = client.Close()
			return fallback(err), nil
		}
		return &redisBus{RedisEventBus: bus, client: client}, nil
	case "kafka":
		if strings.TrimSpace(ebc.KafkaBrokers) == "" {
			return nil, errors.New("EVENT_BUS_DRIVER=kafka requires EVENT_BUS_KAFKA_BROKERS")
		}
		bus, err := infra_eventbus.NewWithKafka(ebc.KafkaBrokers, logger, &infra_eventbus.KafkaEventBusConfig{
			GroupID:      ebc.KafkaGroupID,
			TopicPrefix:  ebc.KafkaTopicPrefix,
			SASLUsername: ebc.KafkaSASLUsername,
			SASLPassword: ebc.KafkaSASLPassword,
		})
		if err != nil {
			return fallback(err), nil
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("unsupported EVENT_BUS_DRIVER %q", ebc.Driver)
	}
}

// redisBus owns the client it was created with.
type redisBus struct {
	*infra_eventbus.RedisEventBus
	client *redis.Client
}

func (b *redisBus) Close() error {
	return errors.Join(b.RedisEventBus.Close(), b.client.Close())
}

// parameterSource picks the parameters file when configured, then the Redis
// record when the service already shares state through Redis, then the
// embedded defaults.
func parameterSource(cfg *config.App, client *redis.Client) parameters.Source {
	if cfg.Policy.ParametersFile != "" {
		return parameters.FileSource{Path: cfg.Policy.ParametersFile}
	}
	if client != nil && cfg.Policy.ParametersRedisKey != "" {
		return parameters.NewRedisSource(client, cfg.Redis.KeyPrefix+cfg.Policy.ParametersRedisKey)
	}
	return parameters.DefaultSource{}
}

func seedDevelopmentAccounts(store *infra_repository.MemoryStore) {
	store.Put(withdrawal.Account{
		ID:         "DEMO-001",
		BalanceFC:  money.Must(2_500_000, money.FC),
		BalanceUSD: money.Must(150_000, money.USD),
		Active:     true,
	})
	store.Put(withdrawal.Account{
		ID:         "DEMO-002",
		BalanceFC:  money.Must(40_000, money.FC),
		BalanceUSD: money.Zero(money.USD),
		Active:     false,
	})
}
