// Package eventbus defines the contract for publishing decision events.
package eventbus

import "context"

// Event is anything that names its own type.
type Event interface {
	Type() string
}

// HandlerFunc handles one event.
type HandlerFunc func(ctx context.Context, e Event) error

// Bus publishes events and dispatches them to registered handlers.
type Bus interface {
	Emit(ctx context.Context, e Event) error
	Register(eventType string, handler HandlerFunc)
}

// Nop is a Bus that drops every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }
func (Nop) Register(string, HandlerFunc)      {}

var _ Bus = Nop{}
