package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	logx "cadence/pkg/logx"
)

const DefaultPeriod = time.Second

// Config controls the runner.
type Config struct {
	// Period is the polling period between ticks. Values <= 0 use DefaultPeriod.
	Period time.Duration
}

type Option func(*Scheduler)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithResources installs a factory for the value exposed by Context.Resources.
// It is called once per Start.
func WithResources(fn func() any) Option {
	return func(s *Scheduler) { s.resources = fn }
}

// WithObserver registers an outcome observer. Observers that also implement
// TickObserver receive tick stats.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// Scheduler is a concurrency-safe registry of tasks plus the runner that
// executes them.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	period time.Duration

	// runner lifecycle; non-nil while a worker exists (including while draining)
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopping bool

	log       logx.Logger
	now       func() time.Time
	resources func() any
	observers []Observer
}

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	Running bool          `json:"running"`
	Period  time.Duration `json:"period"`
	Tasks   []TaskInfo    `json:"tasks"`
}

func New(cfg Config, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		tasks:  map[string]*Task{},
		period: normalizePeriod(cfg.Period),
		log:    log,
		now:    time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

func normalizePeriod(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultPeriod
	}
	return d
}

// Add inserts t, replacing any task with the same name (configuration and
// schedule state included). It never fails.
func (s *Scheduler) Add(t *Task) {
	if t == nil {
		return
	}
	s.mu.Lock()
	_, replaced := s.tasks[t.name]
	s.tasks[t.name] = t
	s.mu.Unlock()

	s.log.Debug("task added",
		logx.Task(t.name),
		logx.Bool("replaced", replaced),
		logx.Bool("single", t.single),
		logx.Duration("interval", t.interval),
	)
}

// AddFunc builds a task with the scheduler clock and adds it.
func (s *Scheduler) AddFunc(name string, active, single bool, interval time.Duration, startImmediately bool, fn Callback) error {
	t, err := newTask(s.now(), name, active, single, interval, startImmediately, fn)
	if err != nil {
		return err
	}
	s.Add(t)
	return nil
}

// Remove deletes the task if present. It is idempotent.
func (s *Scheduler) Remove(name string) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	_, ok := s.tasks[name]
	delete(s.tasks, name)
	s.mu.Unlock()

	if ok {
		s.log.Debug("task removed", logx.Task(name))
	}
}

// Pause deactivates the task. It returns ErrNotFound for unknown names.
func (s *Scheduler) Pause(name string) error {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	t, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	t.deactivate()
	s.mu.Unlock()

	s.log.Info("task paused", logx.Task(name))
	return nil
}

// Resume activates the task; the next fire is now (startImmediately) or
// now+interval, regardless of any earlier schedule. It returns ErrNotFound
// for unknown names.
func (s *Scheduler) Resume(name string, startImmediately bool) error {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	t, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	t.activate(s.now(), startImmediately)
	next := t.next
	s.mu.Unlock()

	s.log.Info("task resumed", logx.Task(name), logx.Time("next", next))
	return nil
}

// Get returns a copy of the named task's state.
func (s *Scheduler) Get(name string) (TaskInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[strings.TrimSpace(name)]
	if !ok {
		return TaskInfo{}, false
	}
	return t.Info(), true
}

// Names returns the registered task names, sorted.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		out = append(out, name)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Running: s.doneCh != nil,
		Period:  s.period,
		Tasks:   make([]TaskInfo, 0, len(s.tasks)),
	}
	for _, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, t.Info())
	}
	s.mu.Unlock()

	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].Name < snap.Tasks[j].Name })
	return snap
}

// SetPeriod changes the polling period. It applies from the next sleep.
func (s *Scheduler) SetPeriod(d time.Duration) {
	d = normalizePeriod(d)
	s.mu.Lock()
	prev := s.period
	s.period = d
	s.mu.Unlock()
	if prev != d {
		s.log.Info("polling period changed", logx.Duration("from", prev), logx.Duration("to", d))
	}
}

func (s *Scheduler) Period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// Running reports whether a worker exists (started and not yet fully stopped).
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneCh != nil
}
