package bridge

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrDown is returned when the bridge has been marked unreachable
	// after repeated probe failures. No network calls are made until
	// Reset is called.
	ErrDown = errors.New("bridge: marked down, call Reset to reconnect")

	// ErrUnknownEndpoint is returned when an endpoint name is not in
	// the client's endpoint table.
	ErrUnknownEndpoint = errors.New("bridge: unknown endpoint name")
)

// TransportError wraps a connection-level failure (refused, timeout).
// These are retried with backoff before being surfaced.
type TransportError struct {
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("bridge [%s]: transport: %v", e.Endpoint, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a malformed bridge response (bad JSON, missing
// "ok" field). Never retried.
type ProtocolError struct {
	Endpoint string
	Reason   string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("bridge [%s]: protocol: %s", e.Endpoint, e.Reason)
}

// CapabilityError reports that the connected bridge version does not
// expose an endpoint, even after the one-shot legacy fallback.
type CapabilityError struct {
	Endpoint string
	Version  string
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	return fmt.Sprintf("bridge [%s]: not supported by bridge version %q", e.Endpoint, e.Version)
}

// ExecutionError is an application-level rejection: the bridge answered
// with ok:false. Never retried; the caller decides what to do.
type ExecutionError struct {
	Endpoint string
	Message  string
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("bridge [%s]: %s", e.Endpoint, e.Message)
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsCapability reports whether err means the endpoint is missing on
// this bridge version.
func IsCapability(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

// IsExecution reports whether err is an application-level rejection.
func IsExecution(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
