// Package limits provides a Redis-backed daily aggregate store. The
// read-check-increment runs as one Lua script, so it is atomic across every
// process sharing the Redis instance.
package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/amirasaad/coopcredit/pkg/limits"
	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	fieldCount = "count"
	fieldTotal = "total"
)

// KEYS[1] aggregate hash, KEYS[2] token key.
// ARGV amount, max count, max amount, ttl seconds.
var reserveScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local total = tonumber(redis.call('HGET', KEYS[1], 'total') or '0')
local amount = tonumber(ARGV[1])
if count + 1 > tonumber(ARGV[2]) then
  return {-1, count, total}
end
if total + amount > tonumber(ARGV[3]) then
  return {-2, count, total}
end
redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('HINCRBY', KEYS[1], 'total', amount)
redis.call('EXPIRE', KEYS[1], ARGV[4])
redis.call('SET', KEYS[2], 'pending', 'EX', ARGV[4])
return {1, count + 1, total + amount}
`)

// KEYS[1] aggregate hash, KEYS[2] token key. ARGV amount.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[2]) ~= 'pending' then
  return 0
end
redis.call('SET', KEYS[2], 'released', 'KEEPTTL')
redis.call('HINCRBY', KEYS[1], 'count', -1)
redis.call('HINCRBY', KEYS[1], 'total', -tonumber(ARGV[1]))
return 1
`)

// KEYS[1] token key.
var commitScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= 'pending' then
  return 0
end
redis.call('SET', KEYS[1], 'committed', 'KEEPTTL')
return 1
`)

// RedisAggregator implements limits.Aggregator on Redis.
type RedisAggregator struct {
	client      *redis.Client
	prefix      string
	ttl         time.Duration
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewRedisAggregator creates an aggregator. Aggregate keys expire after ttl,
// which must outlive a calendar day; callTimeout bounds each round trip and
// surfaces as limits.ErrConcurrencyConflict when exceeded.
func NewRedisAggregator(
	client *redis.Client,
	prefix string,
	ttl time.Duration,
	callTimeout time.Duration,
	logger *slog.Logger,
) *RedisAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "retraits:jour:"
	}
	if ttl < 48*time.Hour {
		ttl = 48 * time.Hour
	}
	if callTimeout <= 0 {
		callTimeout = limits.DefaultLockTimeout
	}
	return &RedisAggregator{
		client:      client,
		prefix:      prefix,
		ttl:         ttl,
		callTimeout: callTimeout,
		logger:      logger.With("component", "limits.RedisAggregator"),
	}
}

func (a *RedisAggregator) aggregateKey(k limits.Key) string {
	// Hash tag keeps a member's keys on one cluster slot.
	return fmt.Sprintf("%s{%s}:%s:%s", a.prefix, k.MemberID, k.Currency, k.Day)
}

func (a *RedisAggregator) tokenKey(k limits.Key, token uuid.UUID) string {
	return fmt.Sprintf("%s{%s}:token:%s", a.prefix, k.MemberID, token)
}

// classify turns transport errors into the aggregator's error contract.
func (a *RedisAggregator) classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: redis %s: %v", limits.ErrConcurrencyConflict, op, err)
	}
	return fmt.Errorf("redis %s: %w", op, err)
}

// Reserve implements limits.Aggregator.
func (a *RedisAggregator) Reserve(ctx context.Context, key limits.Key, amount money.Money, lim limits.Limits) (*limits.Reservation, error) {
	if amount.Code() != key.Currency || lim.MaxAmount.Code() != key.Currency {
		return nil, fmt.Errorf("%w: key %s, amount %s", money.ErrMismatchedCurrencies, key.Currency, amount.Code())
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("limits: amount must be positive, got %s", amount)
	}
	ctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	r := &limits.Reservation{Token: uuid.New(), Key: key, Amount: amount, ReservedAt: time.Now()}
	res, err := reserveScript.Run(ctx, a.client,
		[]string{a.aggregateKey(key), a.tokenKey(key, r.Token)},
		amount.Amount(), lim.MaxCount, lim.MaxAmount.Amount(), int64(a.ttl/time.Second),
	).Int64Slice()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.compensate(ctx, r)
		}
		return nil, a.classify("reserve", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("redis reserve: unexpected reply %v", res)
	}
	switch res[0] {
	case -1:
		return nil, fmt.Errorf("%w: %d of %d used on %s", limits.ErrDailyCountLimitExceeded, res[1], lim.MaxCount, key.Day)
	case -2:
		used := money.Must(res[2], key.Currency)
		return nil, fmt.Errorf("%w: %s used, %s requested, limit %s", limits.ErrDailyAmountLimitExceeded, used, amount, lim.MaxAmount)
	}
	a.logger.Debug("reserved", "key", key.String(), "token", r.Token, "count", res[1], "total", res[2])
	return r, nil
}

// compensate undoes a reserve whose reply was lost. The script may have run
// on the server, so the token is released if it is pending. A reserve still
// queued behind this call is left to expire with the aggregate TTL.
func (a *RedisAggregator) compensate(ctx context.Context, r *limits.Reservation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.callTimeout)
	defer cancel()
	ok, err := releaseScript.Run(ctx, a.client,
		[]string{a.aggregateKey(r.Key), a.tokenKey(r.Key, r.Token)},
		r.Amount.Amount(),
	).Int()
	if err != nil {
		a.logger.Warn("compensating release failed", "key", r.Key.String(), "token", r.Token, "error", err)
		return
	}
	if ok == 1 {
		a.logger.Info("released reservation after lost reply", "key", r.Key.String(), "token", r.Token)
	}
}

// Commit implements limits.Aggregator.
func (a *RedisAggregator) Commit(ctx context.Context, r *limits.Reservation) error {
	if r == nil {
		return fmt.Errorf("%w: nil reservation", limits.ErrConcurrencyConflict)
	}
	ok, err := commitScript.Run(ctx, a.client, []string{a.tokenKey(r.Key, r.Token)}).Int()
	if err != nil {
		return a.classify("commit", err)
	}
	if ok != 1 {
		return fmt.Errorf("%w: reservation %s is not pending", limits.ErrConcurrencyConflict, r.Token)
	}
	return nil
}

// Release implements limits.Aggregator.
func (a *RedisAggregator) Release(ctx context.Context, r *limits.Reservation) error {
	if r == nil {
		return fmt.Errorf("%w: nil reservation", limits.ErrConcurrencyConflict)
	}
	ok, err := releaseScript.Run(ctx, a.client,
		[]string{a.aggregateKey(r.Key), a.tokenKey(r.Key, r.Token)},
		r.Amount.Amount(),
	).Int()
	if err != nil {
		return a.classify("release", err)
	}
	if ok != 1 {
		return fmt.Errorf("%w: reservation %s is not pending", limits.ErrConcurrencyConflict, r.Token)
	}
	a.logger.Debug("released", "key", r.Key.String(), "token", r.Token)
	return nil
}

// Usage implements limits.Aggregator.
func (a *RedisAggregator) Usage(ctx context.Context, key limits.Key) (limits.Usage, error) {
	if !key.Currency.IsValid() {
		return limits.Usage{}, fmt.Errorf("%w: %q", money.ErrInvalidCurrency, string(key.Currency))
	}
	ctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	vals, err := a.client.HMGet(ctx, a.aggregateKey(key), fieldCount, fieldTotal).Result()
	if err != nil {
		return limits.Usage{}, a.classify("usage", err)
	}
	count, err := toInt64(vals[0])
	if err != nil {
		return limits.Usage{}, err
	}
	total, err := toInt64(vals[1])
	if err != nil {
		return limits.Usage{}, err
	}
	return limits.Usage{Key: key, Count: int(count), Total: money.Must(total, key.Currency)}, nil
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("redis usage: bad counter %q: %w", t, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("redis usage: unexpected counter type %T", v)
	}
}

var _ limits.Aggregator = (*RedisAggregator)(nil)
