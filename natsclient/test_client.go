package natsclient

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const defaultNATSImage = "nats:2.10-alpine"

// TestClient is a Client connected to a throwaway NATS container
type TestClient struct {
	Client *Client
	URL    string

	container testcontainers.Container
}

type testConfig struct {
	image        string
	jetstream    bool
	timeout      time.Duration
	startTimeout time.Duration
	clientOpts   []ClientOption
}

// TestOption configures NewTestClient
type TestOption func(*testConfig)

// WithJetStream enables JetStream on the server
func WithJetStream() TestOption {
	return func(cfg *testConfig) { cfg.jetstream = true }
}

// WithNATSVersion selects the nats image tag
func WithNATSVersion(version string) TestOption {
	return func(cfg *testConfig) { cfg.image = "nats:" + version }
}

// WithFastStartup shortens the connect and startup timeouts
func WithFastStartup() TestOption {
	return func(cfg *testConfig) {
		cfg.timeout = 2 * time.Second
		cfg.startTimeout = 10 * time.Second
	}
}

// WithTestClientOptions passes extra options to NewClient
func WithTestClientOptions(opts ...ClientOption) TestOption {
	return func(cfg *testConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

func startNATS(ctx context.Context, cfg *testConfig) (testcontainers.Container, string, error) {
	cmd := []string{"--port", "4222", "--http_port", "8222"}
	if cfg.jetstream {
		cmd = append(cmd, "--js")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        cfg.image,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          cmd,
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/healthz").WithPort("8222/tcp"),
			).WithDeadline(cfg.startTimeout),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("start NATS container: %w", err)
	}

	endpoint, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		return nil, "", errors.Join(fmt.Errorf("resolve NATS endpoint: %w", err), container.Terminate(ctx))
	}
	return container, endpoint, nil
}

// NewSharedTestClient starts a server and connects a client to it. The
// caller owns the result and must call Terminate, typically from TestMain.
func NewSharedTestClient(opts ...TestOption) (*TestClient, error) {
	cfg := &testConfig{
		image:        defaultNATSImage,
		timeout:      5 * time.Second,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx := context.Background()
	container, url, err := startNATS(ctx, cfg)
	if err != nil {
		return nil, err
	}

	clientOpts := append([]ClientOption{
		WithName("sensinact-test"),
		WithTimeout(cfg.timeout),
		WithMaxReconnects(0),
		WithHealthInterval(0),
	}, cfg.clientOpts...)

	client, err := NewClient(url, clientOpts...)
	if err == nil {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
		err = client.Connect(connectCtx)
		cancel()
	}
	if err != nil {
		return nil, errors.Join(fmt.Errorf("connect to %s: %w", url, err), container.Terminate(ctx))
	}

	return &TestClient{Client: client, URL: url, container: container}, nil
}

// NewTestClient is NewSharedTestClient scoped to one test
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()

	tc, err := NewSharedTestClient(opts...)
	if err != nil {
		t.Fatalf("NATS test client: %v", err)
	}
	t.Cleanup(tc.Terminate)
	return tc
}

// Terminate closes the client and removes the container. Calling it twice
// is a no-op.
func (tc *TestClient) Terminate() {
	if tc.container == nil {
		return
	}
	ctx := context.Background()
	_ = tc.Client.Close(ctx)
	_ = tc.container.Terminate(ctx)
	tc.container = nil
}

// IsReady reports whether the client is connected
func (tc *TestClient) IsReady() bool {
	return tc.Client.IsHealthy()
}
