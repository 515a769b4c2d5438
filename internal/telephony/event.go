package telephony

import "strings"

// Phase is the logical lifecycle phase of a call.
type Phase string

const (
	PhaseDialing Phase = "dialing"
	PhaseRinging Phase = "ringing"
	PhaseActive  Phase = "active"
	PhaseEnded   Phase = "ended"
	PhaseUnknown Phase = "unknown"
)

// RawEvent is one native call-state notification as delivered by the
// device shim. PhoneNumber may be empty when the platform withholds it.
type RawEvent struct {
	State       string `json:"state"`
	PhoneNumber string `json:"number,omitempty"`
}

// rawPhases maps native state codes to logical phases. The codes vary
// across Android versions and detector shims, so several spellings fold
// into the same phase.
var rawPhases = map[string]Phase{
	"DIALING":      PhaseDialing,
	"OUTGOING":     PhaseDialing,
	"INCOMING":     PhaseRinging,
	"RINGING":      PhaseRinging,
	"OFFHOOK":      PhaseActive,
	"CONNECTED":    PhaseActive,
	"ACTIVE":       PhaseActive,
	"IDLE":         PhaseEnded,
	"DISCONNECTED": PhaseEnded,
	"MISSED":       PhaseEnded,
}

// Phase maps the raw state code to its logical phase. Unrecognized
// codes yield PhaseUnknown; callers log and drop those.
func (e RawEvent) Phase() Phase {
	if p, ok := rawPhases[strings.ToUpper(strings.TrimSpace(e.State))]; ok {
		return p
	}
	return PhaseUnknown
}
