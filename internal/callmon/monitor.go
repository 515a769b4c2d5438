package callmon

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/recsync/recsync/internal/telephony"
)

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// IDFunc synthesizes a call id for sessions the CRM did not initiate.
type IDFunc func(start time.Time) string

// session tracks the internal state of the call currently in progress.
type session struct {
	id         string
	remote     bool
	number     string
	state      State
	startedAt  time.Time
	answeredAt time.Time
	answered   bool
}

// Monitor consumes raw native call-state notifications and maintains the
// current call's state machine. At most one session is tracked at a
// time; start signals arriving while a session is in progress are folded
// into it, and a new session only begins after the current one has
// reached StateDisconnected.
//
// Monitor is not safe for concurrent use; the orchestrator serializes
// all access on its event loop.
type Monitor struct {
	current *session
	pending string // call id seeded by a remote dial request
	clock   Clock
	newID   IDFunc
}

// New creates a new Monitor.
func New() *Monitor {
	return &Monitor{
		clock: time.Now,
		newID: ulidID,
	}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the time source for the monitor.
func WithClock(c Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithIDFunc sets the local call-id generator.
func WithIDFunc(f IDFunc) Option {
	return func(m *Monitor) { m.newID = f }
}

// NewWithOptions creates a Monitor with the given options.
func NewWithOptions(opts ...Option) *Monitor {
	m := New()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ulidID derives a call id from the session start timestamp.
func ulidID(start time.Time) string {
	return ulid.MustNew(ulid.Timestamp(start), rand.Reader).String()
}

// SeedCallID records a server-assigned call id from a dial request. The
// id attaches to the session already in progress if one exists (the dial
// command and the first native event race), otherwise to the next
// session that starts. Sessions carrying a seeded id upload under that
// id instead of a locally synthesized one.
func (m *Monitor) SeedCallID(id string) {
	if id == "" {
		return
	}
	if m.current != nil && m.current.state != StateDisconnected && !m.current.remote {
		m.current.id = id
		m.current.remote = true
		return
	}
	m.pending = id
}

// Active reports whether a session is currently being tracked.
func (m *Monitor) Active() bool {
	return m.current != nil
}

// Process ingests a native event and returns any resulting session events.
// Unknown raw states produce no transition; callers log and drop them.
func (m *Monitor) Process(evt telephony.RawEvent) []SessionEvent {
	phase := evt.Phase()
	if phase == telephony.PhaseUnknown {
		return nil
	}

	now := m.clock()

	if m.current == nil {
		// An end signal with nothing tracked is a re-delivered native
		// event for an already closed session; idempotent no-op.
		if phase == telephony.PhaseEnded {
			return nil
		}
		return m.start(phase, evt.PhoneNumber, now)
	}

	cs := m.current

	// The platform sometimes repeats the number only on later events.
	if cs.number == "" && evt.PhoneNumber != "" {
		cs.number = evt.PhoneNumber
	}

	switch phase {
	case telephony.PhaseDialing, telephony.PhaseRinging:
		// Overlapping start signals (call waiting) are coalesced into
		// the current session; see DESIGN.md.
		return nil

	case telephony.PhaseActive:
		if cs.answered {
			return nil
		}
		cs.answered = true
		cs.answeredAt = now
		cs.state = StateActive
		return nil

	case telephony.PhaseEnded:
		cs.state = StateDisconnected
		duration := 0.0
		if cs.answered && !cs.answeredAt.IsZero() {
			duration = now.Sub(cs.answeredAt).Seconds()
		}
		m.current = nil
		return []SessionEvent{{
			Kind:        SessionEnded,
			CallID:      cs.id,
			PhoneNumber: cs.number,
			Remote:      cs.remote,
			Timestamp:   now,
			StartedAt:   cs.startedAt,
			Duration:    duration,
		}}
	}

	return nil
}

func (m *Monitor) start(phase telephony.Phase, number string, now time.Time) []SessionEvent {
	cs := &session{
		number:    number,
		startedAt: now,
	}

	switch phase {
	case telephony.PhaseDialing:
		cs.state = StateDialing
	case telephony.PhaseRinging:
		cs.state = StateRinging
	case telephony.PhaseActive:
		// Some devices report an outgoing call only once it is off-hook.
		cs.state = StateActive
		cs.answered = true
		cs.answeredAt = now
	}

	if m.pending != "" {
		cs.id = m.pending
		cs.remote = true
		m.pending = ""
	} else {
		cs.id = m.newID(now)
	}

	m.current = cs
	return []SessionEvent{{
		Kind:        SessionStarted,
		CallID:      cs.id,
		PhoneNumber: cs.number,
		Remote:      cs.remote,
		Timestamp:   now,
	}}
}
