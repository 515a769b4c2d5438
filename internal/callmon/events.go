package callmon

import "time"

// State represents the lifecycle state of the tracked call.
type State string

const (
	StateDialing      State = "dialing"
	StateRinging      State = "ringing"
	StateActive       State = "active"
	StateDisconnected State = "disconnected"
)

// EventKind distinguishes the high-level session events the monitor emits.
type EventKind string

const (
	SessionStarted EventKind = "session_started"
	SessionEnded   EventKind = "session_ended"
)

// SessionEvent is emitted by the monitor when a call session begins or
// ends. Only SessionEnded drives downstream correlation; SessionStarted
// carries the call id and phone number for upload metadata.
type SessionEvent struct {
	Kind        EventKind
	CallID      string
	PhoneNumber string
	// Remote is true when the call id was assigned by the CRM through a
	// dial request rather than synthesized locally.
	Remote    bool
	Timestamp time.Time
	// SessionEnded only.
	StartedAt time.Time
	// Duration is best-effort talk time in seconds; zero when the call
	// was never answered or the answer time is unknown.
	Duration float64
}
