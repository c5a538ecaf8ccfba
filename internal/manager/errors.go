package manager

import (
	"errors"
	"fmt"

	"moxind/pkg/protocol"
)

// stateConflictError reports a command that is invalid in the current state.
// It unwraps to protocol.ErrStateConflict.
type stateConflictError struct {
	op    string
	state State
}

func (e stateConflictError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.op, e.state)
}

func (e stateConflictError) Unwrap() error { return protocol.ErrStateConflict }

// IsStateConflict reports whether err is a state-machine rejection.
func IsStateConflict(err error) bool {
	return errors.Is(err, protocol.ErrStateConflict)
}

// dependencyUnavailableError signals a missing external dependency (e.g., llama.cpp)
// so the HTTP layer can return 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var d dependencyUnavailableError
	return errors.As(err, &d)
}
