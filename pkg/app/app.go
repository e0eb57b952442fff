package app

import (
	"log/slog"
	"time"

	"github.com/amirasaad/coopcredit/pkg/config"
	"github.com/amirasaad/coopcredit/pkg/eventbus"
	"github.com/amirasaad/coopcredit/pkg/handler/decision"
	"github.com/amirasaad/coopcredit/pkg/limits"
	"github.com/amirasaad/coopcredit/pkg/policy"
	"github.com/amirasaad/coopcredit/pkg/withdrawal"
)

// Deps contains the infrastructure the withdrawal service runs on.
type Deps struct {
	Params     *policy.Store
	Accounts   withdrawal.AccountReader
	Ledger     withdrawal.Ledger
	Aggregator limits.Aggregator
	EventBus   eventbus.Bus
	// Decisions shares admitted decisions between instances; nil keeps them local.
	Decisions withdrawal.DecisionCache
	Logger    *slog.Logger
	// Clock drives the allowed-hours check and the calendar day; nil means time.Now.
	Clock func() time.Time
}

type App struct {
	Deps        *Deps
	Config      *config.App
	Validator   *withdrawal.Validator
	Withdrawals *withdrawal.Idempotent
	Stats       *decision.Stats
}

func New(deps *Deps, cfg *config.App) *App {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.EventBus == nil {
		deps.EventBus = eventbus.Nop{}
	}
	app := &App{
		Deps:   deps,
		Config: cfg,
		Stats:  decision.NewStats(),
	}
	app.setupEventBus()

	opts := []withdrawal.Option{
		withdrawal.WithBus(deps.EventBus),
		withdrawal.WithLogger(deps.Logger),
	}
	if deps.Clock != nil {
		opts = append(opts, withdrawal.WithClock(deps.Clock))
	}
	app.Validator = withdrawal.NewValidator(
		deps.Params,
		deps.Accounts,
		deps.Ledger,
		deps.Aggregator,
		opts...,
	)
	var idemOpts []withdrawal.IdempotentOption
	if deps.Decisions != nil {
		idemOpts = append(idemOpts, withdrawal.WithDecisionCache(deps.Decisions))
	}
	app.Withdrawals = withdrawal.NewIdempotent(app.Validator, deps.Logger, idemOpts...)
	return app
}
