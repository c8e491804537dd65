package scheduler

import "errors"

var (
	// ErrNotFound is returned by Pause and Resume for unknown task names.
	ErrNotFound = errors.New("scheduler: task not found")
	// ErrAlreadyRunning is returned by Start while a runner is active (or still draining).
	ErrAlreadyRunning = errors.New("scheduler: already running")

	ErrInvalidName     = errors.New("scheduler: invalid task name")
	ErrInvalidInterval = errors.New("scheduler: interval must be >= 0")
	ErrNilCallback     = errors.New("scheduler: nil callback")

	// ErrPanicked wraps a recovered callback panic.
	ErrPanicked = errors.New("scheduler: task panicked")
)
