package channel

import (
	"context"
	"sync"
)

// MockChannel records status updates and lets tests inject inbound dial
// requests.
type MockChannel struct {
	mu      sync.Mutex
	updates []StatusUpdate
	closed  bool
	err     error // if set, Notify returns this error
	onDial  DialHandler
}

// NewMockChannel creates a new MockChannel.
func NewMockChannel(onDial DialHandler) *MockChannel {
	return &MockChannel{onDial: onDial}
}

func (m *MockChannel) Notify(_ context.Context, update StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.updates = append(m.updates, update)
	return nil
}

func (m *MockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Dial delivers an inbound dial request as if the CRM sent it.
func (m *MockChannel) Dial(req DialRequest) {
	m.mu.Lock()
	handler := m.onDial
	m.mu.Unlock()
	if handler != nil {
		handler(req)
	}
}

// Updates returns a copy of all recorded status updates.
func (m *MockChannel) Updates() []StatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	updates := make([]StatusUpdate, len(m.updates))
	copy(updates, m.updates)
	return updates
}

// Closed returns whether Close was called.
func (m *MockChannel) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SetError causes all subsequent Notify calls to return err.
// Pass nil to clear.
func (m *MockChannel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
