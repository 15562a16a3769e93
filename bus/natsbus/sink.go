// Package natsbus publishes gateway notifications on NATS subjects.
//
// Each notification is wrapped in a bus.Envelope and published on
// <prefix>.<KIND>.<model>.<provider>[.<service>[.<resource>]]. With
// JetStream enabled the envelope ID doubles as the Nats-Msg-Id header so
// retried publishes are deduplicated by the stream.
package natsbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/bus"
	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/health"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/metric"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/pkg/retry"
)

const sinkName = "nats"

// Publisher is the subset of natsclient.Client used by the sink
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishToStream(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) error
}

// Config controls subject naming and delivery.
//
// DeliverTimeout bounds one Deliver call including its retries. Deliver
// runs on the command thread, so a NATS outage costs each transaction at
// most this long before the notification is dropped.
type Config struct {
	SubjectPrefix  string
	JetStream      bool
	PublishTimeout time.Duration
	DeliverTimeout time.Duration
	Retry          retry.Config
}

const (
	defaultPublishTimeout = 5 * time.Second
	defaultDeliverTimeout = 2 * time.Second
)

// DefaultConfig returns the sink defaults
func DefaultConfig() Config {
	return Config{
		SubjectPrefix:  "sensinact",
		PublishTimeout: defaultPublishTimeout,
		DeliverTimeout: defaultDeliverTimeout,
		Retry:          retry.DefaultConfig(),
	}
}

// Sink is a notification.Sink publishing envelopes to NATS
type Sink struct {
	client  Publisher
	config  Config
	logger  *slog.Logger
	metrics *metric.Metrics

	published atomic.Int64
	failed    atomic.Int64

	mu      sync.Mutex
	lastErr error
}

var _ notification.Sink = (*Sink)(nil)

// New creates a NATS sink. logger and metrics may be nil.
func New(client Publisher, cfg Config, logger *slog.Logger, metrics *metric.Metrics) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = defaultDeliverTimeout
	}
	return &Sink{
		client:  client,
		config:  cfg,
		logger:  logger.With("sink", sinkName),
		metrics: metrics,
	}
}

// Subject returns the subject a topic is published on
func (s *Sink) Subject(topic string) string {
	return bus.SubjectFor(topic, s.config.SubjectPrefix)
}

// Deliver publishes the notification within DeliverTimeout. Failures are
// logged and counted; they never reach the accumulator.
func (s *Sink) Deliver(topic string, n notification.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.DeliverTimeout)
	defer cancel()

	if err := s.Publish(ctx, topic, n); err != nil {
		s.failed.Add(1)
		s.setLastError(err)
		s.metrics.RecordSinkError(sinkName)
		s.logger.Error("Failed to publish notification",
			"topic", topic,
			"class", errs.Classify(err).String(),
			"error", err)
		return
	}
	s.published.Add(1)
	s.setLastError(nil)
	s.metrics.RecordSinkPublished(sinkName)
}

func (s *Sink) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Publish encodes and publishes one notification, retrying transient
// failures.
func (s *Sink) Publish(ctx context.Context, topic string, n notification.Notification) error {
	env, data, err := bus.Encode(topic, n)
	if err != nil {
		return err
	}
	subject := s.Subject(topic)

	err = retry.Do(ctx, s.config.Retry, func() error {
		pubCtx, cancel := context.WithTimeout(ctx, s.config.PublishTimeout)
		defer cancel()

		var perr error
		if s.config.JetStream {
			perr = s.client.PublishToStream(pubCtx, subject, data, jetstream.WithMsgID(env.ID))
		} else {
			perr = s.client.Publish(pubCtx, subject, data)
		}
		if perr != nil && !errs.IsTransient(perr) {
			return retry.NonRetryable(perr)
		}
		return perr
	})
	if err != nil {
		return errs.Wrap(err, "natsbus.Sink", "Publish", "publish "+subject)
	}
	return nil
}

// Health reports the sink status. The sink is degraded after its last
// publish failed, and unhealthy when the client reports a lost connection.
func (s *Sink) Health() health.Status {
	s.mu.Lock()
	lastErr := s.lastErr
	s.mu.Unlock()

	var st health.Status
	if hc, ok := s.client.(interface{ IsHealthy() bool }); ok && !hc.IsHealthy() {
		st = health.NewUnhealthy(sinkName, "NATS connection is not healthy")
	} else {
		st = health.FromError(sinkName, lastErr, true)
	}
	s.metrics.RecordHealth(sinkName, st.Healthy)
	return st.WithMetrics(&health.Metrics{
		Published:  s.published.Load(),
		ErrorCount: s.failed.Load(),
	})
}

// Stats returns the number of published and failed notifications
func (s *Sink) Stats() (published, failed int64) {
	return s.published.Load(), s.failed.Load()
}
