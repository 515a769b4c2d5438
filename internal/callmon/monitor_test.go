package callmon_test

import (
	"testing"
	"time"

	"github.com/recsync/recsync/internal/callmon"
	"github.com/recsync/recsync/internal/telephony"
)

// tickClock returns a clock that advances by step on every call.
func tickClock(start time.Time, step time.Duration) callmon.Clock {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func newMonitor(t *testing.T) *callmon.Monitor {
	t.Helper()
	return callmon.NewWithOptions(
		callmon.WithClock(tickClock(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC), time.Second)),
	)
}

func processAll(t *testing.T, m *callmon.Monitor, states ...string) []callmon.SessionEvent {
	t.Helper()
	var events []callmon.SessionEvent
	for _, s := range states {
		events = append(events, m.Process(telephony.RawEvent{State: s, PhoneNumber: "+15550001234"})...)
	}
	return events
}

func assertKind(t *testing.T, evt callmon.SessionEvent, kind callmon.EventKind) {
	t.Helper()
	if evt.Kind != kind {
		t.Fatalf("expected %s, got %s", kind, evt.Kind)
	}
}

func TestAnsweredIncomingCall(t *testing.T) {
	m := newMonitor(t)
	events := processAll(t, m, "Incoming", "Offhook", "Disconnected")

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	assertKind(t, events[0], callmon.SessionStarted)
	if events[0].PhoneNumber != "+15550001234" {
		t.Errorf("expected phone number on start, got %q", events[0].PhoneNumber)
	}
	if events[0].CallID == "" {
		t.Error("expected a synthesized call id")
	}
	if events[0].Remote {
		t.Error("expected locally synthesized id, not remote")
	}

	assertKind(t, events[1], callmon.SessionEnded)
	if events[1].CallID != events[0].CallID {
		t.Errorf("call id changed across session: %s vs %s", events[0].CallID, events[1].CallID)
	}
	if events[1].Duration <= 0 {
		t.Error("expected positive talk duration for answered call")
	}
	if !events[1].StartedAt.Equal(events[0].Timestamp) {
		t.Error("expected StartedAt to match the start event timestamp")
	}
	if m.Active() {
		t.Error("expected no tracked session after disconnect")
	}
}

func TestMissedCallEndsSession(t *testing.T) {
	m := newMonitor(t)
	events := processAll(t, m, "Incoming", "Missed")

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	assertKind(t, events[1], callmon.SessionEnded)
	if events[1].Duration != 0 {
		t.Errorf("expected zero duration for unanswered call, got %f", events[1].Duration)
	}
}

func TestOutgoingCallStartsOnDialing(t *testing.T) {
	m := newMonitor(t)
	events := processAll(t, m, "Dialing", "Offhook", "Disconnected")

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	assertKind(t, events[0], callmon.SessionStarted)
	assertKind(t, events[1], callmon.SessionEnded)
}

func TestOffhookWithoutPriorStateStartsSession(t *testing.T) {
	m := newMonitor(t)
	events := processAll(t, m, "Offhook", "Disconnected")

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Duration <= 0 {
		t.Error("expected positive duration, call was off-hook")
	}
}

func TestDuplicateDisconnectIsIdempotent(t *testing.T) {
	m := newMonitor(t)
	events := processAll(t, m, "Incoming", "Offhook", "Disconnected", "Disconnected", "Idle")

	ended := 0
	for _, evt := range events {
		if evt.Kind == callmon.SessionEnded {
			ended++
		}
	}
	if ended != 1 {
		t.Fatalf("expected exactly 1 session-ended event, got %d", ended)
	}
}

func TestUnknownStatesAreDropped(t *testing.T) {
	m := newMonitor(t)
	events := processAll(t, m, "N/A", "Holding")
	if len(events) != 0 {
		t.Fatalf("expected no events for unknown states, got %d", len(events))
	}
	if m.Active() {
		t.Error("unknown state must not start a session")
	}
}

func TestOverlappingStartSignalsAreCoalesced(t *testing.T) {
	m := newMonitor(t)
	events := processAll(t, m, "Incoming", "Offhook", "Incoming", "Disconnected")

	started := 0
	for _, evt := range events {
		if evt.Kind == callmon.SessionStarted {
			started++
		}
	}
	if started != 1 {
		t.Fatalf("expected a single session for overlapping start signals, got %d", started)
	}
}

func TestSeededCallIDBeforeSessionStart(t *testing.T) {
	m := newMonitor(t)
	m.SeedCallID("srv-9")

	events := processAll(t, m, "Dialing", "Offhook", "Disconnected")
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].CallID != "srv-9" || events[1].CallID != "srv-9" {
		t.Errorf("expected seeded call id srv-9, got %s / %s", events[0].CallID, events[1].CallID)
	}
	if !events[1].Remote {
		t.Error("expected session to be marked remote")
	}
}

func TestSeededCallIDAttachesToSessionInProgress(t *testing.T) {
	m := newMonitor(t)

	events := processAll(t, m, "Dialing")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	// Dial command and first native event raced; seed arrives second.
	m.SeedCallID("srv-42")

	events = processAll(t, m, "Disconnected")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].CallID != "srv-42" {
		t.Errorf("expected seeded id srv-42 on end, got %s", events[0].CallID)
	}
}

func TestSeedDoesNotOverrideExistingRemoteID(t *testing.T) {
	m := newMonitor(t)
	m.SeedCallID("srv-1")
	processAll(t, m, "Dialing")

	// A second dial request while srv-1 is in flight queues for the
	// next session rather than relabeling the current one.
	m.SeedCallID("srv-2")

	events := processAll(t, m, "Disconnected")
	if events[0].CallID != "srv-1" {
		t.Errorf("expected srv-1 on first session, got %s", events[0].CallID)
	}

	events = processAll(t, m, "Incoming", "Disconnected")
	if events[0].CallID != "srv-2" {
		t.Errorf("expected srv-2 on second session, got %s", events[0].CallID)
	}
}

func TestLocalIDsAreDistinct(t *testing.T) {
	m := newMonitor(t)

	first := processAll(t, m, "Incoming", "Disconnected")
	second := processAll(t, m, "Incoming", "Disconnected")

	if first[0].CallID == second[0].CallID {
		t.Errorf("expected distinct local call ids, both were %s", first[0].CallID)
	}
}

func TestLateNumberFillsSession(t *testing.T) {
	m := callmon.NewWithOptions(
		callmon.WithClock(tickClock(time.Unix(1700000000, 0), time.Second)),
	)

	m.Process(telephony.RawEvent{State: "Incoming"})
	m.Process(telephony.RawEvent{State: "Offhook", PhoneNumber: "+15557654321"})
	events := m.Process(telephony.RawEvent{State: "Disconnected"})

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].PhoneNumber != "+15557654321" {
		t.Errorf("expected late number to fill session, got %q", events[0].PhoneNumber)
	}
}
