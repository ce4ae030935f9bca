package process

import (
	"errors"
	"fmt"
)

// Sentinel errors; match with errors.Is.
var (
	ErrSpawn          = errors.New("process spawn failed")
	ErrDrain          = errors.New("process output drain failed")
	ErrSlotBusy       = errors.New("job already active")
	ErrNotFound       = errors.New("job not found")
	ErrAlreadyStarted = errors.New("job already started")
)

// SpawnError reports that the external program could not be located or executed.
type SpawnError struct {
	Program string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Program, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawn, e.Err}
}

// DrainError reports an I/O failure while reading process output.
type DrainError struct {
	Err error
}

func (e *DrainError) Error() string {
	return fmt.Sprintf("error reading process output: %v", e.Err)
}

func (e *DrainError) Unwrap() []error {
	return []error{ErrDrain, e.Err}
}
