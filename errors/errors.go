// Package errors provides the error classification used across the gateway.
// Errors are classified as transient, invalid or fatal so that sinks, the
// command thread and the ingest path can decide whether to retry, drop or
// abort without matching on error strings.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	ErrShuttingDown = errors.New("shutting down")

	// Broker connections
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")

	// Notification payloads
	ErrEncodeFailed  = errors.New("notification encoding failed")
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")
	ErrDataCorrupted = errors.New("data corrupted")

	// History storage
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrKeyNotFound        = errors.New("key not found")

	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	ErrQueueFull = errors.New("queue full")
)

// Unclassified errors are matched against these sentinels, then against
// the lower-cased message hints.
var (
	transientErrors = []error{
		ErrConnectionTimeout,
		ErrConnectionLost,
		ErrNoConnection,
		ErrStorageUnavailable,
		ErrQueueFull,
		context.DeadlineExceeded,
		context.Canceled,
	}
	transientHints = []string{"timeout", "connection", "network", "temporary", "unavailable"}

	fatalErrors = []error{ErrInvalidConfig, ErrMissingConfig, ErrDataCorrupted}
	fatalHints  = []string{"fatal", "panic", "corrupted", "disk full"}

	invalidErrors = []error{ErrInvalidData, ErrParsingFailed}
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

func matches(err error, class ErrorClass, sentinels []error, hints []string) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == class
	}

	for _, s := range sentinels {
		if errors.Is(err, s) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, h := range hints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}

// IsTransient reports whether a delivery or command may succeed when retried
func IsTransient(err error) bool {
	return matches(err, ErrorTransient, transientErrors, transientHints)
}

// IsFatal reports whether err should stop the component that produced it
func IsFatal(err error) bool {
	return matches(err, ErrorFatal, fatalErrors, fatalHints)
}

// IsInvalid reports whether err was caused by the input, such as a
// malformed update or an out-of-order timestamp
func IsInvalid(err error) bool {
	return matches(err, ErrorInvalid, invalidErrors, nil)
}

// Classify returns the error class for an error. Unknown errors are
// transient so callers may retry them.
func Classify(err error) ErrorClass {
	switch {
	case err == nil, IsTransient(err):
		return ErrorTransient
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

// Wrap adds context following the pattern "component.method: action failed: cause"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}
