package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	logx "cadence/pkg/logx"
)

// Callback is the work of a task. The returned value, when non-nil, is
// included in the completion log line.
type Callback func(ctx context.Context, tc *Context) (any, error)

// Task is a schedulable unit.
//
// Invariant: next is non-zero iff active.
// Once added to a Scheduler, mutable fields are guarded by the scheduler lock.
type Task struct {
	name     string
	single   bool
	interval time.Duration
	callback Callback

	active bool
	next   time.Time

	running  bool
	runs     uint64
	failures uint64
	last     *Outcome
}

// TaskInfo is a read-only view of a task.
type TaskInfo struct {
	Name     string        `json:"name"`
	Active   bool          `json:"active"`
	Single   bool          `json:"single"`
	Interval time.Duration `json:"interval"`
	NextFire time.Time     `json:"next_fire,omitempty"`
	Running  bool          `json:"running"`
	Runs     uint64        `json:"runs"`
	Failures uint64        `json:"failures"`

	LastStarted  time.Time `json:"last_started,omitempty"`
	LastFinished time.Time `json:"last_finished,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// NewTask validates the definition and builds a task. If active, the first
// fire time is now (startImmediately) or now+interval.
func NewTask(name string, active, single bool, interval time.Duration, startImmediately bool, fn Callback) (*Task, error) {
	return newTask(time.Now(), name, active, single, interval, startImmediately, fn)
}

func newTask(now time.Time, name string, active, single bool, interval time.Duration, startImmediately bool, fn Callback) (*Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if interval < 0 {
		return nil, fmt.Errorf("%w: %q: %s", ErrInvalidInterval, name, interval)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: %q", ErrNilCallback, name)
	}
	t := &Task{
		name:     name,
		single:   single,
		interval: interval,
		callback: fn,
	}
	if active {
		t.activate(now, startImmediately)
	}
	return t, nil
}

func (t *Task) Name() string { return t.name }

// Info returns a copy of the task state. Once the task is registered, use
// Scheduler.Get instead; it calls Info under the scheduler lock.
func (t *Task) Info() TaskInfo {
	info := TaskInfo{
		Name:     t.name,
		Active:   t.active,
		Single:   t.single,
		Interval: t.interval,
		NextFire: t.next,
		Running:  t.running,
		Runs:     t.runs,
		Failures: t.failures,
	}
	if t.last != nil {
		info.LastStarted = t.last.Started
		info.LastFinished = t.last.Finished
		if t.last.Err != nil {
			info.LastError = t.last.Err.Error()
		}
	}
	return info
}

func (t *Task) activate(now time.Time, startImmediately bool) {
	t.active = true
	if startImmediately {
		t.next = now
	} else {
		t.next = now.Add(t.interval)
	}
}

func (t *Task) deactivate() {
	t.active = false
	t.next = time.Time{}
}

func (t *Task) due(now time.Time) bool {
	return t.active && !t.next.After(now)
}

// execute runs the callback inside the fault boundary and logs the outcome.
// It touches only immutable fields, so it runs without the scheduler lock.
func (t *Task) execute(ctx context.Context, tc *Context, log logx.Logger, clock func() time.Time) (o Outcome) {
	o = Outcome{Task: t.name, Single: t.single, Started: clock()}

	var stack string
	func() {
		defer func() {
			if r := recover(); r != nil {
				o.Panicked = true
				o.Err = fmt.Errorf("%w: %v", ErrPanicked, r)
				stack = string(debug.Stack())
			}
		}()
		o.Result, o.Err = t.callback(ctx, tc)
	}()
	o.Finished = clock()

	fields := []logx.Field{logx.Task(t.name), logx.Duration("took", o.Finished.Sub(o.Started))}
	switch {
	case o.Err != nil:
		o.Result = nil
		log.Critical(t.name+" failed", append(fields, logx.Err(o.Err), logx.Bool("panic", o.Panicked), logx.Stack(stack))...)
	case o.Result == nil:
		log.Info(t.name+" successfully completed", fields...)
	default:
		log.Info(fmt.Sprintf("%s successfully completed (%v)", t.name, o.Result), fields...)
	}
	return o
}

// complete applies the post-execution schedule. Call with the scheduler lock held.
func (t *Task) complete(o Outcome) {
	t.running = false
	t.runs++
	if !o.OK() {
		t.failures++
	}
	t.last = &o

	if t.single {
		t.deactivate()
		return
	}
	// Paused while running: stay paused.
	if t.active {
		t.next = o.Finished.Add(t.interval)
	}
}
