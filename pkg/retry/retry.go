// Package retry runs broker publishes and connection attempts with
// exponential backoff on top of cenkalti/backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable marks err so that Do returns it without further attempts
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config provides retry configuration
type Config struct {
	MaxAttempts  int           // Total attempts including the first (<=0 means one)
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Upper bound on any single delay
	Multiplier   float64       // Growth factor between delays
	AddJitter    bool          // Randomize each delay by up to 25% either way
}

// DefaultConfig returns the defaults used for publish retries
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

func (c Config) normalize() (Config, error) {
	if c.InitialDelay < 0 || c.MaxDelay < 0 || c.Multiplier < 0 {
		return c, errors.New("retry: delays and multiplier cannot be negative")
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	c.Multiplier = min(c.Multiplier, 1000)
	if c.MaxDelay < c.InitialDelay {
		return c, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return c, nil
}

// backOff builds the policy for ctx. The attempt limit, not elapsed time,
// ends the sequence.
func (c Config) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = c.Multiplier
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	if c.AddJitter {
		b.RandomizationFactor = 0.25
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.MaxAttempts-1)), ctx)
}

// Do executes fn with exponential backoff until it succeeds, returns a
// non-retryable error, exhausts its attempts, or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}

	attempts := 0
	err = backoff.Retry(func() error {
		attempts++
		err := fn()
		if IsNonRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, cfg.backOff(ctx))

	switch {
	case err == nil:
		return nil
	case IsNonRetryable(err):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("retry cancelled after %d attempts: %w", attempts, ctx.Err())
	default:
		return fmt.Errorf("retry failed after %d attempts: %w", attempts, err)
	}
}
