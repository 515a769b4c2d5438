package channel

import "context"

// DialRequest is an inbound command instructing the device to place a
// call. CallID is assigned by the CRM and later tags the recording
// upload for that call.
type DialRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	CallID      string `json:"callId"`
}

// StatusUpdate is pushed to the CRM when a session reaches a terminal
// outcome. Delivery is best-effort; a lost status never blocks the
// upload flow.
type StatusUpdate struct {
	CallID    string `json:"callId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// DialHandler receives inbound dial requests.
type DialHandler func(DialRequest)

// Channel is the duplex link to the CRM.
type Channel interface {
	Notify(ctx context.Context, update StatusUpdate) error
	Close() error
}
