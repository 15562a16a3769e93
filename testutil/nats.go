package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

// ErrMockClosed is returned by MockNATSClient after Close
var ErrMockClosed = errors.New("mock nats client closed")

type mockSubscription struct {
	subject string
	handler func(context.Context, []byte)
}

// MockNATSClient is an in-memory stand-in for natsclient.Client. Publishes
// are recorded per subject and handed synchronously to every subscription
// whose subject matches, with NATS "*" and ">" wildcards.
type MockNATSClient struct {
	mu       sync.RWMutex
	messages map[string][][]byte
	streamed map[string][][]byte
	subs     []mockSubscription
	closed   bool
	healthy  bool

	failErr   error
	failCount int
}

// NewMockNATSClient creates a connected mock client
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		messages: make(map[string][][]byte),
		streamed: make(map[string][][]byte),
		healthy:  true,
	}
}

// FailNext makes the next count publishes fail with err
func (c *MockNATSClient) FailNext(count int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failErr = err
	c.failCount = count
}

// SetHealthy changes what IsHealthy reports
func (c *MockNATSClient) SetHealthy(healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = healthy
}

func (c *MockNATSClient) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy && !c.closed
}

func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	return c.publish(ctx, subject, data, false)
}

// PublishToStream records a JetStream publish. Options are ignored.
func (c *MockNATSClient) PublishToStream(ctx context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) error {
	return c.publish(ctx, subject, data, true)
}

func (c *MockNATSClient) publish(ctx context.Context, subject string, data []byte, stream bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrMockClosed
	}
	if c.failCount > 0 {
		c.failCount--
		err := c.failErr
		c.mu.Unlock()
		return err
	}

	c.messages[subject] = append(c.messages[subject], data)
	if stream {
		c.streamed[subject] = append(c.streamed[subject], data)
	}

	var handlers []func(context.Context, []byte)
	for _, s := range c.subs {
		if SubjectMatches(s.subject, subject) {
			handlers = append(handlers, s.handler)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ctx, data)
	}
	return nil
}

func (c *MockNATSClient) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrMockClosed
	}
	c.subs = append(c.subs, mockSubscription{subject: subject, handler: handler})
	return nil
}

// Unsubscribe drops the subscriptions registered with subject
func (c *MockNATSClient) Unsubscribe(subject string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.subs[:0]
	for _, s := range c.subs {
		if s.subject != subject {
			kept = append(kept, s)
		}
	}
	c.subs = kept
	return nil
}

// SubscriptionCount returns the number of active subscriptions
func (c *MockNATSClient) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// GetMessages returns a copy of the messages published on subject
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([][]byte(nil), c.messages[subject]...)
}

// GetStreamMessages returns the messages published through PublishToStream
func (c *MockNATSClient) GetStreamMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([][]byte(nil), c.streamed[subject]...)
}

func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

func (c *MockNATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// SubjectMatches reports whether subject matches pattern under NATS rules:
// "*" matches one token and a trailing ">" matches one or more.
func SubjectMatches(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")
	for i, tok := range p {
		if tok == ">" {
			return i == len(p)-1 && len(s) > i
		}
		if i >= len(s) || (tok != "*" && tok != s[i]) {
			return false
		}
	}
	return len(p) == len(s)
}
