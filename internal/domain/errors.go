package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors, checked with errors.Is.
var (
	// ErrNotConnected is returned when sending while the upstream link is down.
	ErrNotConnected = errors.New("meshrelay: upstream not connected")

	// ErrSessionClosed is returned when writing to a session that has gone away.
	ErrSessionClosed = errors.New("meshrelay: session closed")

	// ErrQueueFull is returned when a client's outbound queue cannot take more frames.
	ErrQueueFull = errors.New("meshrelay: client queue full")

	// ErrTooManyPending is returned when the in-flight command limit is reached.
	ErrTooManyPending = errors.New("meshrelay: too many pending commands")

	// ErrStopped is returned for work arriving after the engine stopped.
	ErrStopped = errors.New("meshrelay: stopped")

	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("meshrelay: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("meshrelay: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("meshrelay: shutdown timeout")

	// ErrInvalidConfig is wrapped by every ConfigurationError.
	ErrInvalidConfig = errors.New("meshrelay: invalid configuration")
)

// TransientLinkError wraps an upstream I/O failure. The link retries.
type TransientLinkError struct {
	Op  string
	Err error
}

func (e *TransientLinkError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *TransientLinkError) Unwrap() error { return e.Err }

// ClientIOError wraps a failure on one client connection.
type ClientIOError struct {
	ClientID uint64
	Op       string
	Err      error
}

func (e *ClientIOError) Error() string {
	return fmt.Sprintf("client %d %s: %v", e.ClientID, e.Op, e.Err)
}

func (e *ClientIOError) Unwrap() error { return e.Err }

// CollaboratorError wraps a failure of the AI service or the chat bridge.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// ConfigurationError reports an invalid setting. It is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrInvalidConfig }

// NewConfigError builds a ConfigurationError with a formatted reason.
func NewConfigError(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
