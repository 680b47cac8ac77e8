package job

import (
	"errors"
	"fmt"
)

// Sentinel errors for state and admission conditions. Callers classify with
// errors.Is so the HTTP layer can map each kind to its own return code.
var (
	// ErrProcessNotRunning signals an abort attempt on a job whose process
	// is not running.
	ErrProcessNotRunning = errors.New("process is not running")

	// ErrProcessNotFound signals that no process ID was recorded for a
	// supposedly running job.
	ErrProcessNotFound = errors.New("process not found")

	// ErrJobNotFound signals a lookup for an unknown resource ID.
	ErrJobNotFound = errors.New("no job found for resource")

	// ErrResourceExists signals creation of a resource ID that already exists.
	ErrResourceExists = errors.New("resource ID already exists")

	// ErrDuplicateJob signals queue admission of a job that is already
	// queued and active.
	ErrDuplicateJob = errors.New("there is an unfinished job for this resource")
)

// PreconditionError reports missing corpus contents (config file or source
// files). It is recoverable by the user fixing their input.
type PreconditionError struct {
	ResourceID string
	Reason     string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s for %q", e.Reason, e.ResourceID)
}

// RemoteError reports a failed remote command or transfer: a non-zero exit,
// or non-empty stderr where call sites treat that as failure. The captured
// stderr is kept for diagnostics.
type RemoteError struct {
	ResourceID string
	Op         string
	Stderr     string
}

func (e *RemoteError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s failed for %q", e.Op, e.ResourceID)
	}
	return fmt.Sprintf("%s failed for %q: %s", e.Op, e.ResourceID, e.Stderr)
}
