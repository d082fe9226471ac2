package bridge

import (
	"errors"
	"fmt"
)

// Sentinel errors for bridge environment failures.
var (
	// ErrInterpreterNotFound indicates the vendor interpreter executable
	// could not be located on the PATH.
	ErrInterpreterNotFound = errors.New("vendor interpreter not found in PATH")

	// ErrServiceNotRunning indicates the vendor data service is not running
	// or not logged in.
	ErrServiceNotRunning = errors.New("vendor data service is not running")
)

// CommError represents a bridge communication failure with subprocess
// context attached for diagnosis.
type CommError struct {
	Op     string // Op is the bridge operation that failed
	Stdout string // Stdout is the captured subprocess standard output
	Stderr string // Stderr is the captured subprocess standard error
	Err    error  // Err is the underlying error
}

// Error implements the error interface for CommError.
func (e *CommError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bridge %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("bridge %s failed", e.Op)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *CommError) Unwrap() error {
	return e.Err
}

// NewCommError creates a CommError with subprocess output context.
func NewCommError(op string, stdout, stderr string, err error) *CommError {
	return &CommError{Op: op, Stdout: stdout, Stderr: stderr, Err: err}
}

// LookupError indicates the vendor feed does not know a requested entity.
// Callers resolving many symbols treat it as skippable rather than fatal.
type LookupError struct {
	Kind string // Kind is the entity category: "symbol", "watchlist" or "index"
	Name string // Name is the entity that failed to resolve
	Err  error  // Err is the underlying error, if any
}

// Error implements the error interface for LookupError.
func (e *LookupError) Error() string {
	return fmt.Sprintf("%s %q not found in vendor database", e.Kind, e.Name)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *LookupError) Unwrap() error {
	return e.Err
}

// IsLookupError reports whether err is or wraps a LookupError.
func IsLookupError(err error) bool {
	var le *LookupError
	return errors.As(err, &le)
}
