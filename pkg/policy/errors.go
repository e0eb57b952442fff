package policy

import "errors"

var (
	// ErrConfiguration is returned when no parameter snapshot is available or a
	// parameter document fails structural validation. It is never retried automatically.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidTimeOfDay is returned when a time-of-day string is not "HH:MM".
	ErrInvalidTimeOfDay = errors.New("invalid time of day")
)
