package app

import (
	"errors"
	"sort"

	"cadence/internal/config"
	"cadence/internal/jobs"
	"cadence/internal/scheduler"
	logx "cadence/pkg/logx"
)

type appliedTask struct {
	def    uint64 // definition hash, Active excluded
	active bool
}

// reconciler maps the tasks config section onto the scheduler. A changed
// definition rebuilds the task; a changed active flag only pauses or
// resumes it, keeping its schedule state.
type reconciler struct {
	sched   *scheduler.Scheduler
	log     logx.Logger
	applied map[string]appliedTask
}

func newReconciler(s *scheduler.Scheduler, log logx.Logger) *reconciler {
	return &reconciler{sched: s, log: log, applied: map[string]appliedTask{}}
}

func definitionHash(tc config.TaskConfig) uint64 {
	tc.Active = nil
	return config.HashTask(tc)
}

func (r *reconciler) apply(tasks map[string]config.TaskConfig) {
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		tc := tasks[name]
		if !tc.Enabled {
			r.drop(name)
			continue
		}
		if err := r.upsert(name, tc); err != nil {
			r.log.Warn("task not applied", logx.Task(name), logx.Err(err))
		}
	}

	for name := range r.applied {
		if _, ok := tasks[name]; !ok {
			r.drop(name)
		}
	}
}

func (r *reconciler) upsert(name string, tc config.TaskConfig) error {
	fn, ok := jobs.Lookup(name)
	if !ok {
		return errors.New("unknown builtin")
	}
	def := definitionHash(tc)
	active := tc.IsActive()

	prev, seen := r.applied[name]
	if !seen || prev.def != def {
		interval, err := scheduler.ParseInterval(tc.Interval)
		if err != nil {
			return err
		}
		if err := r.sched.AddFunc(name, active, tc.Single, interval, tc.StartImmediately, fn); err != nil {
			return err
		}
		r.applied[name] = appliedTask{def: def, active: active}
		r.log.Info("task registered",
			logx.Task(name),
			logx.Bool("replaced", seen),
			logx.Bool("active", active),
			logx.Bool("single", tc.Single),
			logx.Duration("interval", interval),
		)
		return nil
	}

	if prev.active == active {
		return nil
	}
	var err error
	if active {
		err = r.sched.Resume(name, tc.StartImmediately)
	} else {
		err = r.sched.Pause(name)
	}
	// A single-run task that already ran is gone; that is not an error.
	if err != nil && !errors.Is(err, scheduler.ErrNotFound) {
		return err
	}
	r.applied[name] = appliedTask{def: def, active: active}
	return nil
}

func (r *reconciler) drop(name string) {
	if _, ok := r.applied[name]; !ok {
		return
	}
	r.sched.Remove(name)
	delete(r.applied, name)
	r.log.Info("task unregistered", logx.Task(name))
}
