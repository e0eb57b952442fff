package policy

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Store holds the current snapshot. Reads are lock-free; publishing swaps the
// pointer to a new, fully built snapshot so readers never see a partial edit.
type Store struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serialises publishers
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the clock used to stamp EffectiveAt.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store for the cooperative timezone loc.
func NewStore(loc *time.Location, logger *slog.Logger, opts ...StoreOption) *Store {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{loc: loc, now: time.Now, logger: logger.With("component", "policy.Store")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the cooperative timezone.
func (s *Store) Location() *time.Location { return s.loc }

// Publish validates doc and makes it current with the next version number.
// An invalid document is rejected and the previous snapshot stays current.
func (s *Store) Publish(doc Document) (*Snapshot, error) {
	snap, err := NewSnapshot(doc, s.loc)
	if err != nil {
		s.logger.Error("❌ [ERROR] Rejected parameter document", "error", err)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var version int64 = 1
	if prev := s.current.Load(); prev != nil {
		version = prev.Version + 1
	}
	snap.Version = version
	snap.EffectiveAt = s.now()
	s.current.Store(snap)

	s.logger.Info("✅ [SUCCESS] Parameters published",
		"version", snap.Version,
		"effective_at", snap.EffectiveAt,
		"window", snap.AllowedWindow.String(),
	)
	return snap, nil
}

// Current returns the latest published snapshot.
func (s *Store) Current() (*Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, fmt.Errorf("%w: no parameters have been loaded", ErrConfiguration)
	}
	return snap, nil
}
