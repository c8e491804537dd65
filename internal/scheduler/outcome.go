package scheduler

import "time"

// Outcome is the explicit result of one task execution.
type Outcome struct {
	Task     string
	Single   bool
	Started  time.Time
	Finished time.Time
	Result   any
	Err      error
	Panicked bool
	// Removed is set when the runner dropped the task from the registry after
	// this execution (single-run tasks).
	Removed bool
}

func (o Outcome) OK() bool { return o.Err == nil }

func (o Outcome) Duration() time.Duration { return o.Finished.Sub(o.Started) }

// Observer receives every Outcome on the worker goroutine, after the task's
// schedule has been updated. Implementations must be fast; a panicking
// observer is recovered and logged.
type Observer interface {
	OnOutcome(o Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(o Outcome)

func (f ObserverFunc) OnOutcome(o Outcome) { f(o) }

// TickStats describes one runner iteration.
type TickStats struct {
	Started  time.Time
	Duration time.Duration
	Tasks    int // registry size at snapshot time
	Executed int
}

// TickObserver is an optional extension of Observer notified after each tick.
type TickObserver interface {
	OnTick(st TickStats)
}
