package types

import "time"

// Event is a publishable domain event (journal rows, mission transitions)
type Event interface {
	// Kind returns the event kind (mark_threat, stop_tracking, snapshot)
	Kind() string

	// Timestamp returns when the event occurred
	Timestamp() time.Time

	// ToJSON converts the event to JSON bytes for publishing
	ToJSON() ([]byte, error)
}
