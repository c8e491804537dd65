package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "cadence/pkg/logx"
)

const testPeriod = 10 * time.Millisecond

func startScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s := New(Config{Period: testPeriod}, logx.Nop(), opts...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
	ticks    atomic.Int64
}

func (r *outcomeRecorder) OnOutcome(o Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
}

func (r *outcomeRecorder) OnTick(TickStats) { r.ticks.Add(1) }

func (r *outcomeRecorder) all() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

func TestStartImmediatelyRunsOnFirstTick(t *testing.T) {
	s := New(Config{Period: time.Hour}, logx.Nop())
	ran := make(chan struct{}, 1)
	require.NoError(t, s.AddFunc("now", true, false, time.Hour, true, func(context.Context, *Context) (any, error) {
		ran <- struct{}{}
		return nil, nil
	}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run on the first tick")
	}
}

func TestSingleRunRemovedAfterSuccessOrFailure(t *testing.T) {
	rec := &outcomeRecorder{}
	s := startScheduler(t, WithObserver(rec))

	require.NoError(t, s.AddFunc("ok-once", true, true, 0, true, okCallback))
	require.NoError(t, s.AddFunc("bad-once", true, true, 0, true, func(context.Context, *Context) (any, error) {
		return nil, errors.New("broken")
	}))
	require.NoError(t, s.AddFunc("panic-once", true, true, 0, true, func(context.Context, *Context) (any, error) {
		panic("broken harder")
	}))

	require.Eventually(t, func() bool { return len(s.Names()) == 0 }, 2*time.Second, testPeriod)

	// Give the runner a few more ticks to prove nothing runs twice.
	time.Sleep(5 * testPeriod)
	got := rec.all()
	require.Len(t, got, 3)
	for _, o := range got {
		assert.True(t, o.Removed, o.Task)
		assert.True(t, o.Single, o.Task)
	}
}

func TestFailingTaskDoesNotBlockOthers(t *testing.T) {
	var healthy atomic.Int64
	s := startScheduler(t)

	require.NoError(t, s.AddFunc("broken", true, false, time.Hour, true, func(context.Context, *Context) (any, error) {
		panic("always")
	}))
	require.NoError(t, s.AddFunc("healthy", true, false, time.Hour, true, func(context.Context, *Context) (any, error) {
		healthy.Add(1)
		return nil, nil
	}))

	require.Eventually(t, func() bool {
		info, ok := s.Get("broken")
		return ok && info.Failures == 1 && healthy.Load() == 1
	}, 2*time.Second, testPeriod)
	info, _ := s.Get("broken")
	assert.True(t, info.Active)
	assert.True(t, s.Running())
}

func TestZeroIntervalRunsEveryTick(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	s := startScheduler(t)

	require.NoError(t, s.AddFunc("spin", true, false, 0, true, func(context.Context, *Context) (any, error) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		return nil, nil
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(stamps) >= 5
	}, 2*time.Second, testPeriod)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(stamps); i++ {
		// At most one run per tick: consecutive runs are at least one period apart.
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), testPeriod-time.Millisecond)
	}
}

func TestRepeatingTaskNoCatchUp(t *testing.T) {
	var runs atomic.Int64
	rec := &outcomeRecorder{}
	s := startScheduler(t, WithObserver(rec))

	require.NoError(t, s.AddFunc("slow", true, false, 30*time.Millisecond, true, func(context.Context, *Context) (any, error) {
		runs.Add(1)
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	}))

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 3*time.Second, testPeriod)
	got := rec.all()
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		// Next start is never earlier than previous completion + interval.
		assert.GreaterOrEqual(t, got[i].Started.Sub(got[i-1].Finished), 30*time.Millisecond)
	}
}

func TestStopWaitsForRunningCallback(t *testing.T) {
	s := New(Config{Period: testPeriod}, logx.Nop())
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	var runs atomic.Int64
	var ctxErr atomic.Value

	require.NoError(t, s.AddFunc("long", true, false, 0, true, func(ctx context.Context, _ *Context) (any, error) {
		if runs.Add(1) == 1 {
			close(entered)
			<-release
			if err := ctx.Err(); err != nil {
				ctxErr.Store(err)
			}
			finished.Store(true)
		}
		return nil, nil
	}))
	require.NoError(t, s.Start(context.Background()))
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a callback was still running")
	case <-time.After(5 * testPeriod):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the callback finished")
	}
	assert.True(t, finished.Load())
	assert.Nil(t, ctxErr.Load(), "callback context must not be cancelled by Stop")
	assert.False(t, s.Running())

	time.Sleep(5 * testPeriod)
	assert.Equal(t, int64(1), runs.Load(), "no tick may start after Stop")
}

func TestStartTwiceAndRestart(t *testing.T) {
	var contexts []*Context
	var mu sync.Mutex
	s := New(Config{Period: testPeriod}, logx.Nop(), WithResources(func() any { return "db" }))

	s.Stop() // not running: no-op

	require.NoError(t, s.AddFunc("ctx", true, false, 0, true, func(_ context.Context, tc *Context) (any, error) {
		mu.Lock()
		contexts = append(contexts, tc)
		mu.Unlock()
		return tc.Resources(), nil
	}))

	require.NoError(t, s.Start(context.Background()))
	require.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(contexts) >= 2 }, 2*time.Second, testPeriod)
	s.Stop()
	s.Stop()

	mu.Lock()
	first := contexts[0]
	assert.Same(t, first, contexts[1], "context is reused across ticks")
	assert.Equal(t, "db", first.Resources())
	n := len(contexts)
	mu.Unlock()

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(contexts) > n }, 2*time.Second, testPeriod)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.NotSame(t, first, contexts[len(contexts)-1], "each Start creates a fresh context")
}

func TestContextStateSurvivesTicks(t *testing.T) {
	var seen atomic.Int64
	s := startScheduler(t)

	require.NoError(t, s.AddFunc("counter", true, false, 0, true, func(_ context.Context, tc *Context) (any, error) {
		n, _ := tc.Get("n")
		c, _ := n.(int64)
		c++
		tc.Set("n", c)
		seen.Store(c)
		return c, nil
	}))

	require.Eventually(t, func() bool { return seen.Load() >= 3 }, 2*time.Second, testPeriod)
}

func TestParentContextCancelStopsRunner(t *testing.T) {
	s := New(Config{Period: testPeriod}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return !s.Running() }, 2*time.Second, testPeriod)
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

func TestObserverPanicIsContained(t *testing.T) {
	var after atomic.Int64
	s := startScheduler(t,
		WithObserver(ObserverFunc(func(Outcome) { panic("observer bug") })),
		WithObserver(ObserverFunc(func(Outcome) { after.Add(1) })),
	)
	require.NoError(t, s.AddFunc("x", true, true, 0, true, okCallback))

	require.Eventually(t, func() bool { return after.Load() == 1 }, 2*time.Second, testPeriod)
	assert.True(t, s.Running())
}

func TestRemoveDuringRunIsTolerated(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	rec := &outcomeRecorder{}
	s := startScheduler(t, WithObserver(rec))

	require.NoError(t, s.AddFunc("gone", true, true, 0, true, func(context.Context, *Context) (any, error) {
		close(entered)
		<-release
		return nil, nil
	}))
	<-entered
	s.Remove("gone")
	require.NoError(t, s.AddFunc("gone", true, false, time.Hour, false, okCallback))
	close(release)

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 2*time.Second, testPeriod)
	// The replacement registered mid-run must survive the single-run removal.
	info, ok := s.Get("gone")
	require.True(t, ok)
	assert.False(t, info.Single)
	assert.False(t, rec.all()[0].Removed)
	require.Eventually(t, func() bool { return rec.ticks.Load() > 0 }, 2*time.Second, testPeriod)
}
