package errors

import (
	"errors"
	"fmt"
)

// Base error types
var (
	ErrNotFound        = errors.New("not found")
	ErrTimeout         = errors.New("timeout")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrBackend         = errors.New("backend unavailable")
	ErrResolutionEmpty = errors.New("name resolved to zero endpoints")
	ErrMalformedKey    = errors.New("malformed counter key")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeBackend    ErrorType = "backend"
	ErrorTypeResolution ErrorType = "resolution"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeParse      ErrorType = "parse"
)

// OpError is a structured error for totalizer operations
type OpError struct {
	Type     ErrorType
	Op       string // Operation that failed (e.g., "incr", "keys", "resolve")
	Endpoint string // Endpoint or backend address where the error occurred
	Err      error  // Underlying error
}

func (e *OpError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *OpError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrBackend:
		return e.Type == ErrorTypeBackend
	case ErrResolutionEmpty:
		return e.Type == ErrorTypeResolution
	case ErrTimeout:
		return e.Type == ErrorTypeTimeout
	case ErrInvalidConfig:
		return e.Type == ErrorTypeConfig
	case ErrMalformedKey:
		return e.Type == ErrorTypeParse
	}

	return errors.Is(e.Err, target)
}

// ConfigError wraps a configuration validation failure. Config errors are
// fatal at load time and are never produced once a component is in service.
func ConfigError(op string, err error) error {
	return &OpError{Type: ErrorTypeConfig, Op: op, Err: err}
}

// ConfigErrorf is ConfigError with a formatted message.
func ConfigErrorf(op, format string, args ...any) error {
	return &OpError{Type: ErrorTypeConfig, Op: op, Err: fmt.Errorf(format, args...)}
}

// BackendError wraps a per-operation backend failure. Never fatal to the
// process: the ingestion agent drops the event, the fanout engine records the
// endpoint as failed.
func BackendError(op, endpoint string, err error) error {
	return &OpError{Type: ErrorTypeBackend, Op: op, Endpoint: endpoint, Err: err}
}

// ResolutionError reports a logical name resolving to zero endpoints. This is
// distinct from "all endpoints failed": it usually means a naming or
// delegation misconfiguration rather than a transient outage.
func ResolutionError(op, name string) error {
	return &OpError{Type: ErrorTypeResolution, Op: op, Endpoint: name, Err: ErrResolutionEmpty}
}

// ParseError wraps a malformed key or value encountered during decoding.
func ParseError(op string, err error) error {
	return &OpError{Type: ErrorTypeParse, Op: op, Err: err}
}

// TimeoutError marks an endpoint call abandoned at deadline.
func TimeoutError(op, endpoint string) error {
	return &OpError{Type: ErrorTypeTimeout, Op: op, Endpoint: endpoint, Err: ErrTimeout}
}

// IsConfigError checks whether an error originated in configuration
// validation and should abort startup.
func IsConfigError(err error) bool {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Type == ErrorTypeConfig
	}
	return errors.Is(err, ErrInvalidConfig)
}
