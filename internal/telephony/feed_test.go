package telephony

import (
	"strings"
	"testing"
)

func TestParseSingleEvent(t *testing.T) {
	p := NewParser(strings.NewReader(`{"state":"Incoming","number":"+15550001234"}` + "\n"))

	evt, ok := p.Next()
	if !ok {
		t.Fatal("expected an event")
	}
	if evt.State != "Incoming" {
		t.Errorf("expected state=Incoming, got %s", evt.State)
	}
	if evt.PhoneNumber != "+15550001234" {
		t.Errorf("expected number=+15550001234, got %s", evt.PhoneNumber)
	}

	if _, ok := p.Next(); ok {
		t.Error("expected EOF after single event")
	}
}

func TestParseSkipsBlankAndMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		"",
		"not json at all",
		`{"number":"+15550001234"}`, // no state
		`{"state":"Offhook"}`,
		"   ",
		`{"state":"Disconnected","number":"+15550001234"}`,
	}, "\n")

	events := ParseBytes([]byte(input))
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].State != "Offhook" {
		t.Errorf("expected first state=Offhook, got %s", events[0].State)
	}
	if events[1].State != "Disconnected" {
		t.Errorf("expected second state=Disconnected, got %s", events[1].State)
	}
}

func TestPhaseMapping(t *testing.T) {
	tests := []struct {
		raw  string
		want Phase
	}{
		{"Dialing", PhaseDialing},
		{"OUTGOING", PhaseDialing},
		{"Incoming", PhaseRinging},
		{"ringing", PhaseRinging},
		{"Offhook", PhaseActive},
		{"Connected", PhaseActive},
		{"Disconnected", PhaseEnded},
		{"Missed", PhaseEnded},
		{"IDLE", PhaseEnded},
		{" Offhook ", PhaseActive},
		{"N/A", PhaseUnknown},
		{"", PhaseUnknown},
		{"Holding", PhaseUnknown},
	}

	for _, tt := range tests {
		got := RawEvent{State: tt.raw}.Phase()
		if got != tt.want {
			t.Errorf("Phase(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}
