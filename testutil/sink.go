package testutil

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
)

// Delivery is one notification received by a RecordingSink
type Delivery struct {
	Topic        string
	Notification notification.Notification
}

// RecordingSink is a notification.Sink that keeps every delivery in order.
// Thread-safe for concurrent use from multiple goroutines.
type RecordingSink struct {
	mu         sync.Mutex
	deliveries []Delivery
}

// NewRecordingSink creates an empty recording sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// Deliver records the notification.
func (s *RecordingSink) Deliver(topic string, n notification.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, Delivery{Topic: topic, Notification: n})
}

// Deliveries returns a copy of the recorded deliveries.
func (s *RecordingSink) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Delivery, len(s.deliveries))
	copy(result, s.deliveries)
	return result
}

// Topics returns the recorded topics in delivery order.
func (s *RecordingSink) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	topics := make([]string, len(s.deliveries))
	for i, d := range s.deliveries {
		topics[i] = d.Topic
	}
	return topics
}

// Notifications returns the recorded notifications in delivery order.
func (s *RecordingSink) Notifications() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]notification.Notification, len(s.deliveries))
	for i, d := range s.deliveries {
		result[i] = d.Notification
	}
	return result
}

// Len returns the number of recorded deliveries.
func (s *RecordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deliveries)
}

// Reset drops every recorded delivery.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = nil
}

// WaitForDeliveries waits until the sink holds at least count deliveries.
func WaitForDeliveries(t *testing.T, sink *RecordingSink, count int, timeout time.Duration) []Delivery {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sink.Len() >= count {
			return sink.Deliveries()
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d deliveries (got %d)", count, sink.Len())
	return nil
}

// MockError is a generic error for testing error paths.
type MockError struct {
	Message string
	Code    string
}

func (e *MockError) Error() string {
	return e.Message
}

// NewMockError creates a new mock error.
func NewMockError(message, code string) error {
	return &MockError{
		Message: message,
		Code:    code,
	}
}

// Common test errors
var (
	ErrMockFailed     = errors.New("mock operation failed")
	ErrMockTimeout    = errors.New("mock operation timed out")
	ErrMockConnection = errors.New("mock connection error")
)
