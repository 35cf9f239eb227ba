package meshrelay

import "github.com/bft-labs/meshrelay/internal/domain"

// Errors returned by Relay.
var (
	ErrAlreadyRunning  = domain.ErrAlreadyRunning
	ErrNotRunning      = domain.ErrNotRunning
	ErrShutdownTimeout = domain.ErrShutdownTimeout
	ErrInvalidConfig   = domain.ErrInvalidConfig
)

// ConfigurationError reports an invalid configuration field.
type ConfigurationError = domain.ConfigurationError
