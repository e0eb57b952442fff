// Package app wires the withdrawal service and registers its event handlers.
package app

import (
	"github.com/amirasaad/coopcredit/pkg/events"
	"github.com/amirasaad/coopcredit/pkg/handler/decision"
)

// setupEventBus registers all event handlers with the event bus.
func (a *App) setupEventBus() {
	bus := a.Deps.EventBus
	logger := a.Deps.Logger

	bus.Register(
		events.EventTypeWithdrawalAdmitted.String(),
		decision.HandleAdmitted(a.Stats, logger),
	)
	bus.Register(
		events.EventTypeWithdrawalRejected.String(),
		decision.HandleRejected(a.Stats, logger),
	)
	bus.Register(
		events.EventTypeWithdrawalFailed.String(),
		decision.HandleFailed(a.Stats, logger),
	)
	bus.Register(
		events.EventTypeParametersPublished.String(),
		decision.HandleParametersPublished(a.Stats, logger),
	)
}
