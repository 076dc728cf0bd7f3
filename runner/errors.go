package runner

import "errors"

var (
	// ErrRunCancelled is returned when a response arrives for a cancelled run
	// after its grace period.
	ErrRunCancelled = errors.New("run cancelled")
	// ErrNoCurrentRun is returned when an operation needs a current run.
	ErrNoCurrentRun = errors.New("no current run")
)
