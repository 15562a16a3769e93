package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/health"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/metric"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected      = stderrors.New("not connected to NATS")
	ErrCircuitOpen       = stderrors.New("circuit breaker is open")
	ErrConnectionTimeout = errors.ErrConnectionTimeout
)

const healthComponent = "nats"

// Client owns the gateway's NATS connection. It is used by the NATS sink
// to publish notifications and by the update subscriber to receive
// southbound updates.
type Client struct {
	url     string
	status  atomic.Int32
	breaker *breaker
	logger  *slog.Logger
	metrics *metric.Metrics

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	maxReconnects    int
	reconnectWait    time.Duration
	pingInterval     time.Duration
	timeout          time.Duration
	drainTimeout     time.Duration
	handlerTimeout   time.Duration
	healthInterval   time.Duration
	breakerThreshold int
	maxOpen          time.Duration

	// Cleared on close
	username string
	password string
	token    string

	clientName string

	healthDone chan struct{}
	closeMu    sync.Mutex
	closed     atomic.Bool
}

// NewClient creates a client for url. Nothing is dialled until Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		handlerTimeout:   30 * time.Second,
		healthInterval:   10 * time.Second,
		breakerThreshold: defaultBreakerThreshold,
		maxOpen:          time.Minute,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "natsclient", "url", url)
	c.breaker = newBreaker(c.breakerThreshold, c.maxOpen)

	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	return ConnectionStatus(m.status.Load())
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(int32(status))
	m.metrics.RecordNATSConnected(status == StatusConnected)
}

func (m *Client) swapStatus(from, to ConnectionStatus) bool {
	if !m.status.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	m.metrics.RecordNATSConnected(to == StatusConnected)
	return true
}

// IsHealthy returns true if the connection is established
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Health reports the connection for the health endpoint. A reconnecting
// client is degraded; nats.go buffers publishes while it reconnects.
func (m *Client) Health() health.Status {
	var st health.Status
	switch status := m.Status(); status {
	case StatusConnected:
		st = health.NewHealthy(healthComponent, "connected")
	case StatusReconnecting:
		st = health.NewDegraded(healthComponent, "reconnecting")
	default:
		st = health.NewUnhealthy(healthComponent, status.String())
	}

	failures, last := m.breaker.failures()
	return st.WithMetrics(&health.Metrics{
		ErrorCount:   failures,
		LastActivity: last,
	})
}

// failed records a failed call and opens the circuit when the breaker trips
func (m *Client) failed() {
	tripped, openFor := m.breaker.failure()
	if !tripped {
		return
	}

	prev := m.Status()
	if prev == StatusCircuitOpen || !m.swapStatus(prev, StatusCircuitOpen) {
		return
	}
	m.logger.Warn("Circuit breaker opened", "open_for", openFor)
	time.AfterFunc(openFor, m.halfOpen)
}

func (m *Client) succeeded() {
	m.breaker.success()
	m.swapStatus(StatusCircuitOpen, StatusDisconnected)
}

// halfOpen lets the next Connect try again
func (m *Client) halfOpen() {
	if m.swapStatus(StatusCircuitOpen, StatusDisconnected) {
		m.logger.Debug("Circuit breaker half-open")
	}
}

// WaitForConnection blocks until the client is connected or ctx ends
func (m *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrConnectionTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (m *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}

	switch {
	case m.token != "":
		opts = append(opts, nats.Token(m.token))
	case m.username != "":
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}
	return opts
}

// Connect dials the server. It fails fast with ErrCircuitOpen while the
// circuit is open.
func (m *Client) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return errors.WrapFatal(errors.ErrShuttingDown, "Client", "Connect", "check client state")
	}
	if m.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	m.setStatus(StatusConnecting)
	m.logger.Info("Connecting to NATS")

	type dialed struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan dialed, 1)
	opts := m.connectionOptions()
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		done <- dialed{conn, err}
	}()

	var conn *nats.Conn
	select {
	case d := <-done:
		if d.err != nil {
			return m.connectFailed(errors.WrapTransient(d.err, "Client", "Connect", "establish connection"))
		}
		conn = d.conn
	case <-ctx.Done():
		go func() {
			if d := <-done; d.conn != nil {
				d.conn.Close()
			}
		}()
		return m.connectFailed(errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled"))
	}

	js, err := jetstream.New(conn)
	if err != nil {
		m.logger.Warn("JetStream unavailable", "error", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.js = js
	m.mu.Unlock()

	m.setStatus(StatusConnected)
	m.succeeded()
	m.logger.Info("Connected to NATS", "server", conn.ConnectedServerName())

	if m.healthInterval > 0 {
		m.startHealthMonitoring()
	}
	return nil
}

func (m *Client) connectFailed(err error) error {
	m.setStatus(StatusDisconnected)
	m.failed()
	if m.Status() == StatusCircuitOpen {
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return err
}

// Close unsubscribes, drains and closes the connection. It is idempotent.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Swap(true) {
		return nil
	}
	m.stopHealthMonitoring()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, sub := range m.subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe "+sub.Subject))
		}
	}
	m.subs = nil

	if m.conn != nil {
		if err := m.drain(ctx, m.conn); err != nil {
			errs = append(errs, err)
		}
		m.conn.Close()
		m.conn = nil
		m.js = nil
	}

	m.username, m.password, m.token = "", "", ""
	m.setStatus(StatusDisconnected)

	if len(errs) > 0 {
		m.logger.Error("NATS close completed with errors", "errors", len(errs))
	}
	return stderrors.Join(errs...)
}

// drain flushes pending publishes, bounded by the drain timeout and ctx
func (m *Client) drain(ctx context.Context, conn *nats.Conn) error {
	timeout := m.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, max(time.Until(deadline), 0))
	}

	done := make(chan error, 1)
	go func() {
		done <- conn.Drain()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			return errors.Wrap(err, "Client", "Close", "drain connection")
		}
		return nil
	case <-timer.C:
		return errors.WrapTransient(fmt.Errorf("drain timeout after %v", timeout), "Client", "Close", "drain connection")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
	}
}

func (m *Client) connected() (*nats.Conn, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// RTT returns the round-trip time to the NATS server
func (m *Client) RTT() (time.Duration, error) {
	conn, err := m.connected()
	if err != nil {
		return 0, err
	}
	return conn.RTT()
}

// Subscribe delivers every message on subject to handler. Each call gets a
// context derived from ctx, bounded by the handler timeout.
func (m *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	conn, err := m.connected()
	if err != nil {
		return err
	}

	timeout := m.handlerTimeout
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()
	return nil
}

// Unsubscribe removes every subscription on subject. Messages already
// handed to a handler are not interrupted.
func (m *Client) Unsubscribe(subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	kept := m.subs[:0]
	for _, sub := range m.subs {
		if sub.Subject != subject {
			kept = append(kept, sub)
			continue
		}
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, errors.Wrap(err, "Client", "Unsubscribe", "unsubscribe "+subject))
		}
	}
	m.subs = kept
	return stderrors.Join(errs...)
}

// Publish sends data on a core NATS subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn, err := m.connected()
	if err != nil {
		return err
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish "+subject)
	}
	return nil
}

// jetStream checks the circuit and connection before a JetStream call
func (m *Client) jetStream() (jetstream.JetStream, error) {
	switch m.Status() {
	case StatusConnected:
	case StatusCircuitOpen:
		return nil, ErrCircuitOpen
	default:
		return nil, ErrNotConnected
	}

	m.mu.RLock()
	js := m.js
	m.mu.RUnlock()
	if js == nil {
		m.failed()
		return nil, errors.WrapTransient(fmt.Errorf("JetStream not initialized"), "Client", "jetStream", "get JetStream context")
	}
	return js, nil
}

// EnsureStream creates the stream or updates its configuration if it
// already exists.
func (m *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := m.jetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		m.failed()
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", "create stream "+cfg.Name)
	}

	m.succeeded()
	m.logger.Debug("Stream ready", "stream", cfg.Name, "subjects", strings.Join(cfg.Subjects, ","))
	return stream, nil
}

// PublishToStream publishes to a JetStream stream and waits for the ack.
// Options such as jetstream.WithMsgID are passed through.
func (m *Client) PublishToStream(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) error {
	js, err := m.jetStream()
	if err != nil {
		return err
	}

	if _, err := js.Publish(ctx, subject, data, opts...); err != nil {
		m.failed()
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish "+subject)
	}

	m.succeeded()
	return nil
}

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	if m.closed.Load() {
		return
	}
	m.setStatus(StatusReconnecting)
	m.logger.Warn("Disconnected from NATS", "error", err)
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	m.setStatus(StatusConnected)
	m.succeeded()
	m.metrics.RecordNATSReconnect()
	m.logger.Info("Reconnected to NATS")
}

func (m *Client) handleClosed(_ *nats.Conn) {
	m.setStatus(StatusDisconnected)
}

func (m *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		m.logger.Error("NATS subscription error", "subject", sub.Subject, "error", err)
		return
	}
	m.logger.Error("NATS error", "error", err)
}

// startHealthMonitoring pings the server periodically and moves the status
// between connected and reconnecting when the answer changes.
func (m *Client) startHealthMonitoring() {
	m.stopHealthMonitoring()

	m.mu.Lock()
	done := make(chan struct{})
	m.healthDone = done
	interval := m.healthInterval
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_, err := m.RTT()
				healthy := err == nil
				switch {
				case healthy && m.Status() == StatusReconnecting:
					m.setStatus(StatusConnected)
				case !healthy && m.Status() == StatusConnected:
					m.setStatus(StatusReconnecting)
					m.logger.Warn("NATS ping failed", "error", err)
				}
			}
		}
	}()
}

func (m *Client) stopHealthMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.healthDone != nil {
		close(m.healthDone)
		m.healthDone = nil
	}
}
