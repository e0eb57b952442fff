package initializer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	infra_eventbus "github.com/amirasaad/coopcredit/infra/eventbus"
	"github.com/amirasaad/coopcredit/infra/parameters"
	"github.com/amirasaad/coopcredit/pkg/app"
	"github.com/amirasaad/coopcredit/pkg/config"
	"github.com/amirasaad/coopcredit/pkg/limits"
	"github.com/amirasaad/coopcredit/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitEventBus_DefaultsToMemoryAsyncWhenNoExplicitDriver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.App{
		Redis:    &config.Redis{URL: "redis://localhost:6379/0"},
		EventBus: &config.EventBus{Driver: ""},
	}

	bus, err := initEventBus(cfg, logger)
	require.NoError(t, err)
	require.IsType(t, &infra_eventbus.MemoryAsyncEventBus{}, bus)
}

func TestInitEventBus_MemorySync(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.App{EventBus: &config.EventBus{Driver: "memory-sync"}}

	bus, err := initEventBus(cfg, logger)
	require.NoError(t, err)
	require.IsType(t, &infra_eventbus.MemoryEventBus{}, bus)
}

func TestInitEventBus_ExplicitRedisRequiresURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.App{
		Redis:    &config.Redis{URL: ""},
		EventBus: &config.EventBus{Driver: "redis", RedisURL: ""},
	}

	_, err := initEventBus(cfg, logger)
	require.Error(t, err)
}

func TestInitEventBus_RedisConnectionErrorFallsBackToMemoryAsync(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.App{
		Redis:    &config.Redis{DialTimeout: 200 * time.Millisecond},
		EventBus: &config.EventBus{Driver: "redis", RedisURL: "redis://127.0.0.1:1"},
	}

	bus, err := initEventBus(cfg, logger)
	require.NoError(t, err)
	require.IsType(t, &infra_eventbus.MemoryAsyncEventBus{}, bus)
}

func TestInitEventBus_ExplicitKafkaRequiresBrokers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.App{
		EventBus: &config.EventBus{Driver: "kafka", KafkaBrokers: ""},
	}

	_, err := initEventBus(cfg, logger)
	require.Error(t, err)
}

func TestInitEventBus_KafkaConnectionErrorFallsBackToMemoryAsync(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.App{
		EventBus: &config.EventBus{Driver: "kafka", KafkaBrokers: "127.0.0.1:1"},
	}

	bus, err := initEventBus(cfg, logger)
	require.NoError(t, err)
	require.IsType(t, &infra_eventbus.MemoryAsyncEventBus{}, bus)
}

func TestInitEventBus_UnsupportedDriverErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.App{
		EventBus: &config.EventBus{Driver: "nope"},
	}

	_, err := initEventBus(cfg, logger)
	require.Error(t, err)
}

func testConfig() *config.App {
	return &config.App{
		Env:       "development",
		Server:    &config.Server{Host: "localhost", Port: 0},
		Log:       &config.Log{Format: "text", Level: 8},
		DB:        &config.DB{},
		Redis:     &config.Redis{},
		RateLimit: &config.RateLimit{MaxRequests: 100, Window: time.Minute},
		EventBus:  &config.EventBus{Driver: "memory-sync"},
		Policy: &config.Policy{
			Timezone:       "UTC",
			LockTimeout:    time.Second,
			ReloadSchedule: "@every 30s",
			Aggregator:     "memory",
			RetentionDays:  7,
			PurgeSchedule:  "@daily",
		},
	}
}

func TestInitializeDependencies_InMemory(t *testing.T) {
	cfg := testConfig()

	rt, err := InitializeDependencies(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, rt.Close()) })

	snap, err := rt.Deps.Params.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
	assert.IsType(t, &limits.MemoryAggregator{}, rt.Deps.Aggregator)

	acct, err := rt.Deps.Accounts.GetAccount(context.Background(), "DEMO-001")
	require.NoError(t, err)
	assert.True(t, acct.Active)

	a := app.New(rt.Deps, cfg)
	require.NoError(t, RegisterAppJobs(rt, a))
}

func TestInitializeDependencies_UnknownAggregator(t *testing.T) {
	cfg := testConfig()
	cfg.Policy.Aggregator = "etcd"

	_, err := InitializeDependencies(cfg)
	assert.ErrorContains(t, err, "unsupported POLICY_AGGREGATOR")
}

func TestInitializeDependencies_BadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Policy.ReloadSchedule = "every now and then"

	_, err := InitializeDependencies(cfg)
	assert.ErrorContains(t, err, "parameters-reload")
}

func TestInitializeDependencies_InvalidParametersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parametres.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_retraits_par_jour: [oops"), 0o600))
	cfg := testConfig()
	cfg.Policy.ParametersFile = path

	_, err := InitializeDependencies(cfg)
	require.ErrorIs(t, err, policy.ErrConfiguration)
	assert.ErrorContains(t, err, "failed to load withdrawal parameters")
}

func TestParameterSource(t *testing.T) {
	cfg := testConfig()
	assert.IsType(t, parameters.DefaultSource{}, parameterSource(cfg, nil))

	cfg.Policy.ParametersFile = "/etc/coopcredit/parametres.yaml"
	assert.Equal(t, parameters.FileSource{Path: "/etc/coopcredit/parametres.yaml"}, parameterSource(cfg, nil))
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &config.Log{Format: "json", Prefix: "[coopcredit]"})
	logger.Info("hello", "member_id", "M-001")
	assert.Contains(t, buf.String(), `"member_id":"M-001"`)
	assert.Contains(t, buf.String(), "hello")
}
