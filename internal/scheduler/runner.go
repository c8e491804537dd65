package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "cadence/pkg/logx"
)

// Start spawns the runner goroutine. It returns ErrAlreadyRunning if a runner
// is active or still draining after Stop.
//
// Cancelling ctx stops the runner at the next tick boundary, like Stop. The
// context handed to callbacks does not inherit ctx's cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.doneCh != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stopCh = stop
	s.doneCh = done
	s.stopping = false
	period := s.period
	s.mu.Unlock()

	var res any
	if s.resources != nil {
		res = s.resources()
	}
	tc := newContext(res, s.now())

	go s.loop(ctx, tc, stop, done)

	s.log.Info("scheduler started", logx.Duration("period", period))
	return nil
}

// Stop asks the runner to exit after its current tick and blocks until it
// has. An executing callback is never interrupted. Stop is a no-op when the
// scheduler is not running.
func (s *Scheduler) Stop() {
	start := time.Now()

	s.mu.Lock()
	done := s.doneCh
	if done == nil {
		s.mu.Unlock()
		return
	}
	if !s.stopping {
		s.stopping = true
		close(s.stopCh)
	}
	s.mu.Unlock()

	s.log.Info("stop requested")
	<-done
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Scheduler) loop(ctx context.Context, tc *Context, stop, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.stopCh = nil
		s.doneCh = nil
		s.stopping = false
		s.mu.Unlock()
		close(done)
	}()

	// Callbacks are never cancelled by Stop or by ctx.
	runCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.tick(runCtx, tc)

		timer := time.NewTimer(s.Period())
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// tick runs every due task once, serially. A task that disappears between the
// name snapshot and its turn is skipped.
func (s *Scheduler) tick(ctx context.Context, tc *Context) {
	now := s.now()

	s.mu.Lock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	s.mu.Unlock()

	executed := 0
	for _, name := range names {
		s.mu.Lock()
		t, ok := s.tasks[name]
		if !ok || !t.due(now) {
			s.mu.Unlock()
			continue
		}
		t.running = true
		s.mu.Unlock()

		o := t.execute(ctx, tc, s.log, s.now)
		executed++

		s.mu.Lock()
		t.complete(o)
		// Only drop the entry if it was not replaced by Add while running.
		if t.single {
			if cur, ok := s.tasks[name]; ok && cur == t {
				delete(s.tasks, name)
				o.Removed = true
			}
		}
		s.mu.Unlock()

		s.notify(o)
	}

	st := TickStats{Started: now, Duration: s.now().Sub(now), Tasks: len(names), Executed: executed}
	if executed > 0 {
		s.log.Debug("tick finished", logx.Int("executed", executed), logx.Int("tasks", len(names)), logx.Duration("took", st.Duration))
	}
	s.notifyTick(st)
}

func (s *Scheduler) notify(o Outcome) {
	for _, obs := range s.observers {
		s.safeObserve(func() { obs.OnOutcome(o) })
	}
}

func (s *Scheduler) notifyTick(st TickStats) {
	for _, obs := range s.observers {
		if to, ok := obs.(TickObserver); ok {
			s.safeObserve(func() { to.OnTick(st) })
		}
	}
}

func (s *Scheduler) safeObserve(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("observer panicked", logx.String("panic", fmt.Sprint(r)), logx.Stack(string(debug.Stack())))
		}
	}()
	fn()
}
