package bus

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
)

// Handler receives notifications from the Bus
type Handler func(topic string, n notification.Notification)

type subscription struct {
	id      uint64
	pattern string
	handler Handler
}

// Bus dispatches notifications to local subscribers by topic pattern.
// It implements notification.Sink and is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *slog.Logger
}

var _ notification.Sink = (*Bus)(nil)

// New creates an empty bus. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers handler for every topic matching pattern and returns
// a function removing the subscription. Calling it twice is harmless.
func (b *Bus) Subscribe(pattern string, handler Handler) (func(), error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("bus: nil handler for pattern %q", pattern)
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}, nil
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of active subscriptions
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Deliver calls every matching handler in subscription order on the
// caller's goroutine.
func (b *Bus) Deliver(topic string, n notification.Notification) {
	b.mu.RLock()
	matched := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if Match(s.pattern, topic) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		b.dispatch(s, topic, n)
	}
}

func (b *Bus) dispatch(s subscription, topic string, n notification.Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Notification handler panicked",
				"pattern", s.pattern,
				"topic", topic,
				"panic", r)
		}
	}()
	s.handler(topic, n)
}

// ValidatePattern checks a subscription pattern. Valid patterns are "*",
// an exact topic, or a topic prefix followed by "/*".
func ValidatePattern(pattern string) error {
	switch {
	case pattern == "":
		return fmt.Errorf("bus: empty pattern")
	case pattern == "*":
		return nil
	}

	prefix := strings.TrimSuffix(pattern, "/*")
	if prefix == "" || strings.Contains(prefix, "*") {
		return fmt.Errorf("bus: invalid pattern %q", pattern)
	}
	return nil
}

// Match reports whether topic is selected by pattern
func Match(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return strings.HasPrefix(topic, prefix+"/")
	}
	return pattern == topic
}

// Fanout delivers each notification to several sinks in order
type Fanout []notification.Sink

// Deliver forwards to every non-nil sink
func (f Fanout) Deliver(topic string, n notification.Notification) {
	for _, s := range f {
		if s != nil {
			s.Deliver(topic, n)
		}
	}
}
