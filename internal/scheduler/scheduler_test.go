package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "cadence/pkg/logx"
)

func requireInvariant(t *testing.T, s *Scheduler) {
	t.Helper()
	for _, info := range s.Snapshot().Tasks {
		require.Equalf(t, info.Active, !info.NextFire.IsZero(), "task %q: active=%v next=%v", info.Name, info.Active, info.NextFire)
	}
}

func TestPauseResumeUnknown(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())

	require.ErrorIs(t, s.Pause("unknown"), ErrNotFound)
	require.ErrorIs(t, s.Resume("unknown", true), ErrNotFound)
	s.Remove("unknown")
	assert.Empty(t, s.Names())
}

func TestPauseThenResumeUsesResumeTime(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resumeAt := t0.Add(37 * time.Second)
	clock := &fakeClock{times: []time.Time{t0, resumeAt}}
	s := New(Config{}, logx.Nop(), WithClock(clock.now))

	require.NoError(t, s.AddFunc("r", true, false, 10*time.Second, false, okCallback))
	info, ok := s.Get("r")
	require.True(t, ok)
	assert.Equal(t, t0.Add(10*time.Second), info.NextFire)

	require.NoError(t, s.Pause("r"))
	info, _ = s.Get("r")
	assert.False(t, info.Active)
	assert.True(t, info.NextFire.IsZero())
	requireInvariant(t, s)

	require.NoError(t, s.Resume("r", false))
	info, _ = s.Get("r")
	assert.True(t, info.Active)
	assert.Equal(t, resumeAt.Add(10*time.Second), info.NextFire)
	requireInvariant(t, s)
}

func TestResumeImmediately(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(Config{}, logx.Nop(), WithClock(func() time.Time { return t0 }))

	require.NoError(t, s.AddFunc("r", false, false, time.Hour, false, okCallback))
	require.NoError(t, s.Resume("r", true))

	info, _ := s.Get("r")
	assert.Equal(t, t0, info.NextFire)
}

func TestAddReplacesExisting(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())

	require.NoError(t, s.AddFunc("dup", true, false, time.Hour, false, okCallback))
	require.NoError(t, s.AddFunc("dup", false, true, 5*time.Second, false, okCallback))

	require.Equal(t, []string{"dup"}, s.Names())
	info, ok := s.Get("dup")
	require.True(t, ok)
	assert.False(t, info.Active)
	assert.True(t, info.Single)
	assert.Equal(t, 5*time.Second, info.Interval)
	assert.True(t, info.NextFire.IsZero())
}

func TestAddFuncValidation(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	require.ErrorIs(t, s.AddFunc("", true, false, time.Second, false, okCallback), ErrInvalidName)
	require.ErrorIs(t, s.AddFunc("x", true, false, -1, false, okCallback), ErrInvalidInterval)
	assert.Empty(t, s.Names())
}

func TestSnapshotSortedAndPeriod(t *testing.T) {
	t.Parallel()
	s := New(Config{Period: 0}, logx.Nop())
	for _, n := range []string{"b", "a", "c"} {
		require.NoError(t, s.AddFunc(n, true, false, time.Minute, false, okCallback))
	}

	snap := s.Snapshot()
	assert.False(t, snap.Running)
	assert.Equal(t, DefaultPeriod, snap.Period)
	require.Len(t, snap.Tasks, 3)
	assert.Equal(t, "a", snap.Tasks[0].Name)
	assert.Equal(t, "c", snap.Tasks[2].Name)

	s.SetPeriod(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, s.Period())
}

func TestConcurrentAdminCalls(t *testing.T) {
	s := New(Config{Period: time.Millisecond}, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				_ = s.AddFunc("shared", true, i%2 == 0, 0, true, okCallback)
				_ = s.Pause("shared")
				_ = s.Resume("shared", true)
				s.Remove("shared")
			}
		}()
	}
	for w := 0; w < 4; w++ {
		<-done
	}
	requireInvariant(t, s)
}
