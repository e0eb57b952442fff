// Package cache shares admitted withdrawal decisions between service
// instances so that a retry landing on another instance is replayed.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/amirasaad/coopcredit/pkg/withdrawal"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisDecisionCache implements withdrawal.DecisionCache using Redis.
type RedisDecisionCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisDecisionCache creates a cache storing entries under prefix for ttl.
func NewRedisDecisionCache(
	client *redis.Client,
	prefix string,
	ttl time.Duration,
	logger *slog.Logger,
) *RedisDecisionCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisDecisionCache{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

type cachedDecision struct {
	RequestID     uuid.UUID          `json:"request_id"`
	Outcome       withdrawal.Outcome `json:"outcome"`
	Amount        money.Money        `json:"amount"`
	Fee           money.Money        `json:"fee"`
	NetDebit      money.Money        `json:"net_debit"`
	BalanceAfter  money.Money        `json:"balance_after"`
	ParamsVersion int64              `json:"params_version"`
	DecidedAt     time.Time          `json:"decided_at"`
}

func (r *RedisDecisionCache) key(key string) string {
	return r.prefix + key
}

func (r *RedisDecisionCache) Get(ctx context.Context, key string) (*withdrawal.Decision, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.logger.Debug("Redis cache miss", "key", key)
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Redis cache get error", "key", key, "error", err)
		return nil, err
	}
	var c cachedDecision
	if err := json.Unmarshal(val, &c); err != nil {
		r.logger.Error("Redis cache unmarshal error", "key", key, "error", err)
		return nil, err
	}
	r.logger.Debug("Redis cache hit", "key", key)
	return &withdrawal.Decision{
		RequestID:     c.RequestID,
		Outcome:       c.Outcome,
		Amount:        c.Amount,
		Fee:           c.Fee,
		NetDebit:      c.NetDebit,
		BalanceAfter:  c.BalanceAfter,
		ParamsVersion: c.ParamsVersion,
		DecidedAt:     c.DecidedAt,
	}, nil
}

// Set stores an admitted decision. SETNX keeps the first writer's decision
// when two instances race on the same request.
func (r *RedisDecisionCache) Set(ctx context.Context, key string, d *withdrawal.Decision) error {
	if !d.Admitted() {
		return fmt.Errorf("only admitted decisions are cached, got %q", d.Outcome)
	}
	data, err := json.Marshal(cachedDecision{
		RequestID:     d.RequestID,
		Outcome:       d.Outcome,
		Amount:        d.Amount,
		Fee:           d.Fee,
		NetDebit:      d.NetDebit,
		BalanceAfter:  d.BalanceAfter,
		ParamsVersion: d.ParamsVersion,
		DecidedAt:     d.DecidedAt,
	})
	if err != nil {
		r.logger.Error("Redis cache marshal error", "key", key, "error", err)
		return err
	}
	stored, err := r.client.SetNX(ctx, r.key(key), data, r.ttl).Result()
	if err != nil {
		r.logger.Error("Redis cache set error", "key", key, "error", err)
		return err
	}
	r.logger.Debug("Redis cache set", "key", key, "stored", stored, "ttl", r.ttl)
	return nil
}

var _ withdrawal.DecisionCache = (*RedisDecisionCache)(nil)
