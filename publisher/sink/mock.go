package sink

import (
	"sync"

	"github.com/curately/atsync/cfg"
	"github.com/curately/atsync/publisher"
)

func init() {
	publisher.RegisterSink("mock", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		return &MockSink{}, nil
	})
}

// MockSink is a mock implementation of Sink for testing
type MockSink struct {
	Batches    []MockBatch
	PublishErr error
	mu         sync.Mutex
}

// MockBatch records one Publish call.
type MockBatch struct {
	Topic    string
	Messages []publisher.Message
}

// Publish records a batch for later inspection in tests
func (m *MockSink) Publish(topic string, msgs []publisher.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishErr != nil {
		return m.PublishErr
	}

	m.Batches = append(m.Batches, MockBatch{
		Topic:    topic,
		Messages: append([]publisher.Message(nil), msgs...),
	})

	return nil
}

// Close is a no-op for MockSink
func (m *MockSink) Close() error {
	return nil
}

// BatchSizes returns the recorded batch sizes in publish order.
func (m *MockSink) BatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	sizes := make([]int, 0, len(m.Batches))
	for _, b := range m.Batches {
		sizes = append(sizes, len(b.Messages))
	}
	return sizes
}

// Reset clears all recorded batches
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches = nil
}
