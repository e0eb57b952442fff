// Package decision holds the event handlers that observe withdrawal
// decisions and parameter publications.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/amirasaad/coopcredit/pkg/eventbus"
	"github.com/amirasaad/coopcredit/pkg/events"
)

// Stats tallies decisions by outcome and kind.
type Stats struct {
	mu       sync.Mutex
	admitted int64
	rejected map[string]int64
	failed   map[string]int64
	version  int64
}

// NewStats creates an empty tally.
func NewStats() *Stats {
	return &Stats{
		rejected: make(map[string]int64),
		failed:   make(map[string]int64),
	}
}

// Summary is a point-in-time copy of Stats.
type Summary struct {
	Admitted      int64            `json:"admis"`
	Rejected      map[string]int64 `json:"rejete"`
	Failed        map[string]int64 `json:"echec"`
	ParamsVersion int64            `json:"versionParametres"`
}

// Summary returns a copy of the counters.
func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		Admitted:      s.admitted,
		Rejected:      copyCounts(s.rejected),
		Failed:        copyCounts(s.failed),
		ParamsVersion: s.version,
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// HandleAdmitted handles Withdrawal.Admitted events.
func HandleAdmitted(stats *Stats, logger *slog.Logger) eventbus.HandlerFunc {
	return func(ctx context.Context, e eventbus.Event) error {
		log := logger.With(
			"handler", "decision.HandleAdmitted",
			"event_type", e.Type(),
		)
		ev, ok := e.(*events.WithdrawalAdmitted)
		if !ok {
			err := fmt.Errorf("unexpected event type: %s", e.Type())
			log.Error("❌ [ERROR] unexpected event type", "error", err)
			return err
		}
		stats.mu.Lock()
		stats.admitted++
		stats.mu.Unlock()

		log.Info("✅ [SUCCESS] withdrawal admitted",
			"request_id", ev.RequestID,
			"member_id", ev.MemberID,
			"amount", ev.Amount.String(),
			"fee", ev.Fee.String(),
			"net_debit", ev.NetDebit.String(),
			"params_version", ev.ParamsVersion,
		)
		return nil
	}
}

// HandleRejected handles Withdrawal.Rejected events.
func HandleRejected(stats *Stats, logger *slog.Logger) eventbus.HandlerFunc {
	return func(ctx context.Context, e eventbus.Event) error {
		log := logger.With(
			"handler", "decision.HandleRejected",
			"event_type", e.Type(),
		)
		ev, ok := e.(*events.WithdrawalRejected)
		if !ok {
			err := fmt.Errorf("unexpected event type: %s", e.Type())
			log.Error("❌ [ERROR] unexpected event type", "error", err)
			return err
		}
		stats.mu.Lock()
		stats.rejected[ev.Kind]++
		stats.mu.Unlock()

		log.Info("⛔ [REJECTED] withdrawal rejected",
			"request_id", ev.RequestID,
			"member_id", ev.MemberID,
			"kind", ev.Kind,
			"details", ev.Details,
		)
		return nil
	}
}

// HandleFailed handles Withdrawal.Failed events.
func HandleFailed(stats *Stats, logger *slog.Logger) eventbus.HandlerFunc {
	return func(ctx context.Context, e eventbus.Event) error {
		log := logger.With(
			"handler", "decision.HandleFailed",
			"event_type", e.Type(),
		)
		ev, ok := e.(*events.WithdrawalFailed)
		if !ok {
			err := fmt.Errorf("unexpected event type: %s", e.Type())
			log.Error("❌ [ERROR] unexpected event type", "error", err)
			return err
		}
		stats.mu.Lock()
		stats.failed[ev.Kind]++
		stats.mu.Unlock()

		log.Warn("⚠️ [FAILED] withdrawal failed",
			"request_id", ev.RequestID,
			"member_id", ev.MemberID,
			"kind", ev.Kind,
			"error", ev.Error,
		)
		return nil
	}
}

// HandleParametersPublished handles Parameters.Published events.
func HandleParametersPublished(stats *Stats, logger *slog.Logger) eventbus.HandlerFunc {
	return func(ctx context.Context, e eventbus.Event) error {
		log := logger.With(
			"handler", "decision.HandleParametersPublished",
			"event_type", e.Type(),
		)
		ev, ok := e.(*events.ParametersPublished)
		if !ok {
			err := fmt.Errorf("unexpected event type: %s", e.Type())
			log.Error("❌ [ERROR] unexpected event type", "error", err)
			return err
		}
		stats.mu.Lock()
		if ev.Version > stats.version {
			stats.version = ev.Version
		}
		stats.mu.Unlock()

		log.Info("📥 [RECEIVED] parameters published",
			"version", ev.Version,
			"effective_at", ev.EffectiveAt,
			"hash", ev.Hash,
		)
		return nil
	}
}
