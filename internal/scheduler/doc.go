// Package scheduler runs named, independently timed tasks on one dedicated
// worker goroutine.
//
// The Scheduler is a registry of tasks keyed by name. Administrative calls
// (Add, Remove, Pause, Resume) may come from any goroutine. A single runner
// wakes every polling period, collects the tasks that are due and executes
// them one after another. Each callback runs inside a fault boundary: a
// returned error or a panic is logged at critical severity and recorded as a
// failed Outcome, and the runner moves on.
//
// Scheduling rules:
//   - A repeating task is rescheduled at completion time + interval. Missed
//     fire times are never replayed (no catch-up).
//   - A single-run task is removed from the registry after its one execution,
//     whether it succeeded or failed.
//   - A task cannot fire more often than once per polling period.
//
// Stop only takes effect between ticks. A running callback is never
// preempted; Stop blocks until it returns. Callbacks must not call Stop.
//
// Callbacks share one Context per worker lifetime (created on Start), so
// state stored with Context.Set survives across ticks until the next Start.
package scheduler
