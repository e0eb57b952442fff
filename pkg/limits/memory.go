package limits

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/google/uuid"
)

// DefaultLockTimeout bounds the wait for a per-key critical section.
const DefaultLockTimeout = 2 * time.Second

type tokenState int

const (
	statePending tokenState = iota
	stateCommitted
	stateReleased
)

type aggregate struct {
	lock    chan struct{} // one-slot semaphore guarding count and total
	count   int
	total   money.Amount
	pending int
}

// MemoryAggregator keeps aggregates in process memory. Each key has its own
// critical section so unrelated members never contend.
type MemoryAggregator struct {
	mu          sync.Mutex
	aggregates  map[Key]*aggregate
	tokens      map[uuid.UUID]tokenState
	lockTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// MemoryOption configures a MemoryAggregator.
type MemoryOption func(*MemoryAggregator)

// WithLockTimeout sets the bounded wait for a key's critical section.
func WithLockTimeout(d time.Duration) MemoryOption {
	return func(a *MemoryAggregator) {
		if d > 0 {
			a.lockTimeout = d
		}
	}
}

// WithNow overrides the clock used to stamp reservations.
func WithNow(now func() time.Time) MemoryOption {
	return func(a *MemoryAggregator) { a.now = now }
}

// NewMemoryAggregator creates an empty in-memory aggregator.
func NewMemoryAggregator(logger *slog.Logger, opts ...MemoryOption) *MemoryAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &MemoryAggregator{
		aggregates:  make(map[Key]*aggregate),
		tokens:      make(map[uuid.UUID]tokenState),
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
		logger:      logger.With("component", "limits.MemoryAggregator"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *MemoryAggregator) aggregateFor(key Key) *aggregate {
	a.mu.Lock()
	defer a.mu.Unlock()
	agg, ok := a.aggregates[key]
	if !ok {
		agg = &aggregate{lock: make(chan struct{}, 1)}
		a.aggregates[key] = agg
	}
	return agg
}

// lookup returns the aggregate for key without creating it.
func (a *MemoryAggregator) lookup(key Key) (*aggregate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	agg, ok := a.aggregates[key]
	return agg, ok
}

// acquire waits for the key's critical section, creating the aggregate on
// first use. A zero timeout waits on ctx only.
func (a *MemoryAggregator) acquire(ctx context.Context, key Key, timeout time.Duration) (*aggregate, error) {
	agg := a.aggregateFor(key)
	if err := a.lock(ctx, agg, key, timeout); err != nil {
		return nil, err
	}
	return agg, nil
}

func (a *MemoryAggregator) lock(ctx context.Context, agg *aggregate, key Key, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case agg.lock <- struct{}{}:
		return nil
	case <-expired:
		a.logger.Warn("lock wait timed out", "key", key.String(), "timeout", timeout)
		return fmt.Errorf("%w: lock wait on %s exceeded %s", ErrConcurrencyConflict, key, timeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrConcurrencyConflict, ctx.Err())
	}
}

func (agg *aggregate) unlock() { <-agg.lock }

// Reserve atomically checks the daily quotas for key and, if they hold,
// counts amount against them.
func (a *MemoryAggregator) Reserve(ctx context.Context, key Key, amount money.Money, lim Limits) (*Reservation, error) {
	if err := checkReserveArgs(key, amount, lim); err != nil {
		return nil, err
	}
	agg, err := a.acquire(ctx, key, a.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer agg.unlock()

	if agg.count+1 > lim.MaxCount {
		return nil, fmt.Errorf("%w: %d of %d used on %s", ErrDailyCountLimitExceeded, agg.count, lim.MaxCount, key.Day)
	}
	if agg.total+amount.Amount() > lim.MaxAmount.Amount() {
		used := money.Must(agg.total, key.Currency)
		return nil, fmt.Errorf("%w: %s used, %s requested, limit %s", ErrDailyAmountLimitExceeded, used, amount, lim.MaxAmount)
	}

	agg.count++
	agg.total += amount.Amount()
	agg.pending++

	r := &Reservation{Token: uuid.New(), Key: key, Amount: amount, ReservedAt: a.now()}
	a.mu.Lock()
	a.tokens[r.Token] = statePending
	a.mu.Unlock()

	a.logger.Debug("reserved", "key", key.String(), "token", r.Token, "count", agg.count, "total", agg.total)
	return r, nil
}

// transition moves a pending token to next, or reports a conflict. Callers
// hold the key's critical section so the token and the aggregate change together.
func (a *MemoryAggregator) transition(r *Reservation, next tokenState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.tokens[r.Token]
	if !ok {
		return fmt.Errorf("%w: unknown reservation %s", ErrConcurrencyConflict, r.Token)
	}
	if state != statePending {
		return fmt.Errorf("%w: reservation %s already finalised", ErrConcurrencyConflict, r.Token)
	}
	a.tokens[r.Token] = next
	return nil
}

// Commit finalises r. It can no longer be released.
func (a *MemoryAggregator) Commit(ctx context.Context, r *Reservation) error {
	if r == nil {
		return fmt.Errorf("%w: nil reservation", ErrConcurrencyConflict)
	}
	agg, err := a.acquire(ctx, r.Key, 0)
	if err != nil {
		return err
	}
	defer agg.unlock()
	if err := a.transition(r, stateCommitted); err != nil {
		return err
	}
	agg.pending--
	a.logger.Debug("committed", "key", r.Key.String(), "token", r.Token)
	return nil
}

// Release undoes r. Releasing a token twice, or after Commit, is a conflict.
// It waits without a deadline other than ctx. A release that fails to get the
// key leaves the token pending, so it can be retried.
func (a *MemoryAggregator) Release(ctx context.Context, r *Reservation) error {
	if r == nil {
		return fmt.Errorf("%w: nil reservation", ErrConcurrencyConflict)
	}
	agg, err := a.acquire(ctx, r.Key, 0)
	if err != nil {
		return err
	}
	defer agg.unlock()
	if err := a.transition(r, stateReleased); err != nil {
		return err
	}
	agg.count--
	agg.total -= r.Amount.Amount()
	agg.pending--
	a.logger.Debug("released", "key", r.Key.String(), "token", r.Token, "count", agg.count, "total", agg.total)
	return nil
}

// Usage returns the current count and total for key, pending reservations
// included. A key never reserved reads as zero and is not tracked.
func (a *MemoryAggregator) Usage(ctx context.Context, key Key) (Usage, error) {
	if !key.Currency.IsValid() {
		return Usage{}, fmt.Errorf("%w: %q", money.ErrInvalidCurrency, string(key.Currency))
	}
	agg, ok := a.lookup(key)
	if !ok {
		return Usage{Key: key, Total: money.Zero(key.Currency)}, nil
	}
	if err := a.lock(ctx, agg, key, a.lockTimeout); err != nil {
		return Usage{}, err
	}
	defer agg.unlock()
	return Usage{Key: key, Count: agg.count, Total: money.Must(agg.total, key.Currency)}, nil
}

// Purge drops aggregates for days before cutoff that have no pending
// reservation, and forgets finalised tokens of those days. It returns the
// number of aggregates removed.
func (a *MemoryAggregator) Purge(cutoff Day) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for key, agg := range a.aggregates {
		if key.Day >= cutoff {
			continue
		}
		select {
		case agg.lock <- struct{}{}:
		default:
			continue // busy
		}
		if agg.pending == 0 {
			delete(a.aggregates, key)
			removed++
		}
		agg.unlock()
	}
	// Finalised tokens only serve to reject reuse, and an unknown token is rejected as well.
	for token, state := range a.tokens {
		if state != statePending {
			delete(a.tokens, token)
		}
	}
	a.logger.Info("purged daily aggregates", "before", cutoff.String(), "removed", removed)
	return removed
}
