package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/metric"
)

// ClientOption configures a Client
type ClientOption func(*Client) error

// WithMaxReconnects sets the maximum number of reconnection attempts (-1 for infinite)
func WithMaxReconnects(max int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = max
		return nil
	}
}

// WithReconnectWait sets the wait time between reconnection attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("negative reconnect wait %v", d)
		}
		c.reconnectWait = d
		return nil
	}
}

func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.pingInterval = d
		return nil
	}
}

// WithHealthInterval sets how often the connection is pinged, 0 disables it
func WithHealthInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.healthInterval = d
		return nil
	}
}

// WithHandlerTimeout bounds the context passed to subscription handlers
func WithHandlerTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("handler timeout must be positive, got %v", d)
		}
		c.handlerTimeout = d
		return nil
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMetrics records connection state and reconnects
func WithMetrics(metrics *metric.Metrics) ClientOption {
	return func(c *Client) error {
		c.metrics = metrics
		return nil
	}
}

// WithCircuitBreaker sets the consecutive failures that open the circuit
// and the longest the circuit stays open.
func WithCircuitBreaker(threshold int, maxOpen time.Duration) ClientOption {
	return func(c *Client) error {
		if maxOpen < breakerBaseInterval {
			return fmt.Errorf("circuit open interval must be at least %v", breakerBaseInterval)
		}
		c.breakerThreshold = threshold
		c.maxOpen = maxOpen
		return nil
	}
}

// WithCredentials sets username and password for authentication
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken sets a token for authentication. It takes precedence over
// credentials.
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithName sets the connection name shown by the server
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithTimeout sets the dial timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.drainTimeout = d
		return nil
	}
}
