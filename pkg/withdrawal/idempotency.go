package withdrawal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// DecisionCache shares admitted decisions between service instances.
// Get returns nil and no error on a miss.
type DecisionCache interface {
	Get(ctx context.Context, key string) (*Decision, error)
	Set(ctx context.Context, key string, d *Decision) error
}

type remembered struct {
	decision *Decision
	at       time.Time
}

// Idempotent wraps a Processor so that retries of one request identity are
// safe: concurrent duplicates share a single execution, and an admitted
// decision is replayed on later retries. Rejections and failures are not
// remembered, so a retry is evaluated again.
type Idempotent struct {
	next     Processor
	decided  sync.Map // request id -> remembered
	inflight singleflight.Group
	shared   DecisionCache
	now      func() time.Time
	logger   *slog.Logger
}

// IdempotentOption configures an Idempotent.
type IdempotentOption func(*Idempotent)

// WithDecisionCache consults c on a local miss and stores admitted decisions in it.
func WithDecisionCache(c DecisionCache) IdempotentOption {
	return func(i *Idempotent) { i.shared = c }
}

// NewIdempotent wraps next.
func NewIdempotent(next Processor, logger *slog.Logger, opts ...IdempotentOption) *Idempotent {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Idempotent{next: next, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Process implements Processor.
func (i *Idempotent) Process(ctx context.Context, req Request) (*Decision, error) {
	if req.ID == uuid.Nil {
		return i.next.Process(ctx, req)
	}
	key := req.ID.String()
	log := i.logger.With("handler", "Idempotent.Process", "idempotency_key", key)

	if d, ok := i.lookup(key); ok {
		log.Info("🔁 [SKIP] Request already admitted, replaying decision")
		return d, nil
	}

	executed := false
	v, err, _ := i.inflight.Do(key, func() (any, error) {
		// Another caller may have finished while we waited.
		if d, ok := i.lookup(key); ok {
			return d, nil
		}
		if d := i.lookupShared(ctx, log, key); d != nil {
			return d, nil
		}
		executed = true
		d, err := i.next.Process(ctx, req)
		if err != nil {
			return nil, err
		}
		if d.Admitted() {
			i.decided.Store(key, remembered{decision: d, at: i.now()})
			if i.shared != nil {
				if err := i.shared.Set(context.WithoutCancel(ctx), key, d); err != nil {
					log.Warn("failed to share admitted decision", "error", err)
				}
			}
		}
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	d := v.(*Decision)
	if !executed && !d.Replayed {
		log.Info("🔁 [SKIP] Joined in-flight request")
		cp := *d
		cp.Replayed = true
		return &cp, nil
	}
	return d, nil
}

func (i *Idempotent) lookup(key string) (*Decision, bool) {
	v, ok := i.decided.Load(key)
	if !ok {
		return nil, false
	}
	cp := *v.(remembered).decision
	cp.Replayed = true
	return &cp, true
}

// lookupShared returns a decision admitted by another instance. Cache errors
// count as a miss.
func (i *Idempotent) lookupShared(ctx context.Context, log *slog.Logger, key string) *Decision {
	if i.shared == nil {
		return nil
	}
	d, err := i.shared.Get(ctx, key)
	if err != nil {
		log.Warn("decision cache lookup failed", "error", err)
		return nil
	}
	if d == nil {
		return nil
	}
	log.Info("🔁 [SKIP] Request admitted by another instance, replaying decision")
	i.decided.Store(key, remembered{decision: d, at: i.now()})
	cp := *d
	cp.Replayed = true
	return &cp
}

// Purge forgets decisions remembered before cutoff and returns how many were dropped.
func (i *Idempotent) Purge(cutoff time.Time) int {
	n := 0
	i.decided.Range(func(k, v any) bool {
		if v.(remembered).at.Before(cutoff) {
			i.decided.Delete(k)
			n++
		}
		return true
	})
	return n
}

var _ Processor = (*Idempotent)(nil)
