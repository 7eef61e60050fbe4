package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrRunInFlight is returned when a configuration already has an active
	// run. Callers must re-trigger explicitly; runs are never queued.
	ErrRunInFlight = errors.New("sync already in flight for this configuration")

	ErrConfigurationNotFound = errors.New("sync configuration not found")
	ErrConflictNotFound      = errors.New("sync conflict not found")
)

// ConfigurationError marks a configuration too incomplete to run. Raised
// synchronously, before any run is accepted.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid sync configuration: %s", e.Reason)
}

// ConnKind classifies why the peer could not be used.
type ConnKind string

const (
	ConnUnreachable  ConnKind = "unreachable"
	ConnUnauthorized ConnKind = "unauthorized"
	ConnTimeout      ConnKind = "timeout"
)

// ConnectionError wraps a transport failure talking to the peer. The run
// ends failed with no partial effects.
type ConnectionError struct {
	Kind ConnKind
	URL  string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("peer %s %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("peer %s %s", e.URL, e.Kind)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ApplyError reports that the remote's transactional apply failed and was
// rolled back in full.
type ApplyError struct {
	Remote string
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("remote apply failed: %s", e.Remote)
}
