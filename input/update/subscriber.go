package update

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/health"
)

// NATSSubscriber is the subset of natsclient.Client used for ingest
type NATSSubscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
	Unsubscribe(subject string) error
}

// Subscriber feeds update messages from a NATS subject to a Handler
type Subscriber struct {
	client  NATSSubscriber
	subject string
	handler *Handler
	logger  *slog.Logger
	limiter *rate.Limiter

	// stopped is guarded by mu so no message joins inflight once Stop waits
	mu       sync.RWMutex
	stopped  bool
	inflight sync.WaitGroup

	received  atomic.Int64
	failed    atomic.Int64
	throttled atomic.Int64
}

// NewSubscriber creates a subscriber for subject
func NewSubscriber(client NATSSubscriber, subject string, handler *Handler, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		client:  client,
		subject: subject,
		handler: handler,
		logger:  logger.With("component", "update", "subject", subject),
	}
}

// WithRateLimit drops messages above perSecond, allowing bursts of burst
// messages. A zero perSecond disables the limit.
func (s *Subscriber) WithRateLimit(perSecond float64, burst int) *Subscriber {
	if perSecond <= 0 {
		s.limiter = nil
		return s
	}
	s.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	return s
}

// Start subscribes to the subject
func (s *Subscriber) Start(ctx context.Context) error {
	if s.subject == "" {
		return errs.WrapInvalid(errs.ErrMissingConfig, "update.Subscriber", "Start", "empty subject")
	}
	if err := s.client.Subscribe(ctx, s.subject, s.onMessage); err != nil {
		return errs.WrapTransient(err, "update.Subscriber", "Start", "subscribe")
	}
	s.logger.Info("Update subscriber started")
	return nil
}

// Stop unsubscribes and waits until the messages being handled are applied
// or ctx ends. Messages arriving after Stop are ignored.
func (s *Subscriber) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	err := s.client.Unsubscribe(s.subject)

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errs.WrapTransient(ctx.Err(), "update.Subscriber", "Stop", "wait for in-flight messages")
	}
	if err != nil {
		return errs.Wrap(err, "update.Subscriber", "Stop", "unsubscribe")
	}
	s.logger.Info("Update subscriber stopped")
	return nil
}

func (s *Subscriber) onMessage(ctx context.Context, data []byte) {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return
	}
	s.inflight.Add(1)
	s.mu.RUnlock()
	defer s.inflight.Done()

	s.received.Add(1)
	if s.limiter != nil && !s.limiter.Allow() {
		s.throttled.Add(1)
		s.handler.metrics.RecordUpdateReceived("throttled")
		s.logger.Warn("Update message dropped, rate limit exceeded")
		return
	}
	n, err := s.handler.Handle(ctx, data)
	if err != nil {
		s.failed.Add(1)
		if errs.IsInvalid(err) {
			s.logger.Warn("Invalid update message", "error", err)
		} else {
			s.logger.Error("Failed to apply update message", "error", err)
		}
		return
	}
	s.logger.Debug("Update message applied", "updates", n)
}

// Health reports message counters. The subscriber is degraded while it
// drops messages over its rate limit.
func (s *Subscriber) Health() health.Status {
	received, failed, throttled := s.received.Load(), s.failed.Load(), s.throttled.Load()
	status := health.NewHealthy("ingest", "subscribed to "+s.subject)
	if throttled > 0 && s.limiter != nil && s.limiter.Tokens() < 1 {
		status = health.NewDegraded("ingest", "rate limit exceeded on "+s.subject)
	}
	return status.WithMetrics(&health.Metrics{
		Published:  received - failed - throttled,
		ErrorCount: failed + throttled,
	})
}
