// Package amqpbus publishes gateway notifications to an AMQP 0.9.1 topic
// exchange. Routing keys are the dot-separated notification topics, so
// consumers bind with patterns such as "DATA.#" or "*.model.provider.#".
package amqpbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/streadway/amqp"

	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/bus"
	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/health"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/metric"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
)

const (
	sinkName     = "amqp"
	exchangeType = "topic"
	contentType  = "application/json"
)

// Channel is the subset of *amqp.Channel used by the sink
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Config holds the broker address and exchange
type Config struct {
	URL            string
	Exchange       string
	ConnectTimeout time.Duration
}

// Sink is a notification.Sink publishing persistent JSON envelopes
type Sink struct {
	config  Config
	logger  *slog.Logger
	metrics *metric.Metrics

	mu      sync.Mutex
	conn    *amqp.Connection
	channel Channel
	closed  bool

	published atomic.Int64
	failed    atomic.Int64
}

var _ notification.Sink = (*Sink)(nil)

// New creates an unconnected sink. Call Start to dial the broker.
func New(cfg Config, logger *slog.Logger, metrics *metric.Metrics) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &Sink{
		config:  cfg,
		logger:  logger.With("sink", sinkName),
		metrics: metrics,
	}
}

// Start dials the broker with exponential backoff, declares the exchange
// and watches the connection for closure.
func (s *Sink) Start(ctx context.Context) error {
	if s.config.URL == "" || s.config.Exchange == "" {
		return errs.WrapInvalid(errs.ErrMissingConfig, "amqpbus.Sink", "Start", "url and exchange are required")
	}
	if err := s.retryConnect(ctx); err != nil {
		return errs.WrapTransient(err, "amqpbus.Sink", "Start", "connect to broker")
	}
	return nil
}

func (s *Sink) retryConnect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = s.config.ConnectTimeout
	return backoff.Retry(s.connect, backoff.WithContext(b, ctx))
}

func (s *Sink) connect() error {
	conn, err := amqp.Dial(s.config.URL)
	if err != nil {
		s.logger.Warn("AMQP dial failed", "error", err)
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := declareExchange(ch, s.config.Exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return backoff.Permanent(err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ch.Close()
		_ = conn.Close()
		return backoff.Permanent(errs.ErrShuttingDown)
	}
	s.conn = conn
	s.channel = ch
	s.mu.Unlock()

	s.logger.Info("AMQP connected", "exchange", s.config.Exchange)
	go s.notifyWhenClosed(conn)
	return nil
}

func (s *Sink) notifyWhenClosed(conn *amqp.Connection) {
	reason := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if reason == nil {
		return
	}
	s.logger.Warn("AMQP connection closed, reconnecting", "reason", reason.Error())

	s.mu.Lock()
	s.channel = nil
	s.conn = nil
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	if err := backoff.Retry(s.connect, backoff.NewExponentialBackOff()); err != nil {
		s.logger.Error("AMQP reconnect abandoned", "error", err)
	}
}

func declareExchange(ch Channel, name string) error {
	return ch.ExchangeDeclare(
		name,
		exchangeType,
		true,  // durable
		false, // delete when unused
		false, // internal
		false, // noWait
		nil,   // arguments
	)
}

// RoutingKey returns the routing key for a notification topic
func RoutingKey(topic string) string {
	return bus.SubjectFor(topic, "")
}

// Deliver publishes the notification and logs failures
func (s *Sink) Deliver(topic string, n notification.Notification) {
	if err := s.Publish(topic, n); err != nil {
		s.failed.Add(1)
		s.metrics.RecordSinkError(sinkName)
		s.logger.Error("Failed to publish notification", "topic", topic, "error", err)
		return
	}
	s.published.Add(1)
	s.metrics.RecordSinkPublished(sinkName)
}

// Publish encodes and publishes one notification
func (s *Sink) Publish(topic string, n notification.Notification) error {
	env, data, err := bus.Encode(topic, n)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel == nil {
		return errs.WrapTransient(errs.ErrNoConnection, "amqpbus.Sink", "Publish", "publish")
	}

	err = s.channel.Publish(
		s.config.Exchange,
		RoutingKey(topic),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  contentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    env.ID,
			Timestamp:    env.PublishedAt,
			Type:         env.Kind,
			Body:         data,
		},
	)
	if err != nil {
		return errs.WrapTransient(err, "amqpbus.Sink", "Publish", "publish to "+s.config.Exchange)
	}
	return nil
}

// Health reports whether a channel is open
func (s *Sink) Health() health.Status {
	s.mu.Lock()
	up := s.channel != nil
	s.mu.Unlock()

	var st health.Status
	if up {
		st = health.NewHealthy(sinkName, "connected")
	} else {
		st = health.NewUnhealthy(sinkName, "not connected to broker")
	}
	s.metrics.RecordHealth(sinkName, st.Healthy)
	return st.WithMetrics(&health.Metrics{
		Published:  s.published.Load(),
		ErrorCount: s.failed.Load(),
	})
}

// Close closes the channel and connection and stops reconnecting
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	var err error
	if s.channel != nil {
		err = s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil && !s.conn.IsClosed() {
		if cerr := s.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.conn = nil
	return err
}
