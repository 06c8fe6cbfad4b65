package sink

import (
	"context"
	"sync"

	"github.com/bridgedist/bucketd/cfg"
	"github.com/bridgedist/bucketd/notify"
)

func init() {
	notify.RegisterSink("mock", func(config cfg.SinkConfiguration) (notify.Sink, error) {
		return &MockSink{}, nil
	})
}

// MockSink records messages in memory, for tests and dry runs
type MockSink struct {
	Messages []*notify.Message
	SendErr  error
	mu       sync.Mutex
}

// Send records a message for later inspection
func (m *MockSink) Send(ctx context.Context, msg *notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SendErr != nil {
		return m.SendErr
	}
	m.Messages = append(m.Messages, msg)
	return nil
}

// Sent returns a copy of the recorded messages
func (m *MockSink) Sent() []*notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*notify.Message(nil), m.Messages...)
}

// Close is a no-op for MockSink
func (m *MockSink) Close() error {
	return nil
}

// Reset clears all recorded messages
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
}
