package parameters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/amirasaad/coopcredit/pkg/eventbus"
	"github.com/amirasaad/coopcredit/pkg/events"
	"github.com/amirasaad/coopcredit/pkg/policy"
)

// Reloader pulls the document from a Source and publishes it to a Store
// whenever its content changes.
type Reloader struct {
	store  *policy.Store
	source Source
	bus    eventbus.Bus
	logger *slog.Logger

	mu       sync.Mutex
	lastHash string
}

// NewReloader creates a Reloader. bus may be nil.
func NewReloader(store *policy.Store, source Source, bus eventbus.Bus, logger *slog.Logger) *Reloader {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{
		store:  store,
		source: source,
		bus:    bus,
		logger: logger.With("component", "parameters.Reloader", "source", source.Name()),
	}
}

// Reload fetches the document and publishes it when it differs from the last
// published one. It reports whether a new snapshot was published. On any
// error the current snapshot stays in place.
func (r *Reloader) Reload(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.source.Load(ctx)
	if err != nil {
		r.logger.Warn("❌ [ERROR] Failed to load parameters", "error", err)
		return false, fmt.Errorf("load parameters from %s: %w", r.source.Name(), err)
	}
	hash := doc.Hash()
	if hash == r.lastHash {
		r.logger.Debug("parameters unchanged")
		return false, nil
	}
	snap, err := r.store.Publish(doc)
	if err != nil {
		return false, err
	}
	r.lastHash = hash

	if err := r.bus.Emit(ctx, &events.ParametersPublished{
		Version:     snap.Version,
		EffectiveAt: snap.EffectiveAt,
		Hash:        hash,
	}); err != nil {
		r.logger.Error("❌ [ERROR] Failed to emit event", "error", err)
	}
	return true, nil
}

// Bootstrap performs the first load. When the source holds no document and
// the store is still empty, it publishes fallback instead so the service can
// start. Any other failure, an invalid document included, is returned.
func (r *Reloader) Bootstrap(ctx context.Context, fallback Source) error {
	_, err := r.Reload(ctx)
	if err == nil {
		return nil
	}
	if fallback == nil || !errors.Is(err, ErrNotFound) {
		return err
	}
	if _, cerr := r.store.Current(); cerr == nil {
		return nil
	}
	r.logger.Warn("falling back to default parameters", "reason", err, "fallback", fallback.Name())
	doc, err := fallback.Load(ctx)
	if err != nil {
		return err
	}
	_, err = r.store.Publish(doc)
	return err
}
