// Package jobs holds the builtin tasks that can be enabled from config.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"cadence/internal/scheduler"
	"cadence/internal/storage"
)

const (
	HistoryPrune = "history.prune"
	StoreCheck   = "store.check"
	Heartbeat    = "heartbeat"
)

var (
	ErrNoEnv   = errors.New("jobs: scheduler context carries no job environment")
	ErrNoStore = errors.New("jobs: storage disabled")
)

// Env is the resource handle exposed to builtin jobs through
// scheduler.Context.Resources.
type Env struct {
	Store storage.Store
	// Now overrides time.Now (tests).
	Now func() time.Time

	retention atomic.Int64
}

// SetRetention changes how long history.prune keeps runs. It is safe to call
// while jobs run; zero disables pruning.
func (e *Env) SetRetention(d time.Duration) { e.retention.Store(int64(d)) }

func (e *Env) Retention() time.Duration { return time.Duration(e.retention.Load()) }

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func envFrom(tc *scheduler.Context) (*Env, error) {
	if tc == nil {
		return nil, ErrNoEnv
	}
	env, ok := tc.Resources().(*Env)
	if !ok || env == nil {
		return nil, ErrNoEnv
	}
	return env, nil
}

var builtins = map[string]scheduler.Callback{
	HistoryPrune: pruneHistory,
	StoreCheck:   checkStore,
	Heartbeat:    heartbeat,
}

// Lookup returns the callback of a builtin job.
func Lookup(name string) (scheduler.Callback, bool) {
	fn, ok := builtins[name]
	return fn, ok
}

// Names lists the builtin jobs, sorted.
func Names() []string {
	out := make([]string, 0, len(builtins))
	for name := range builtins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// pruneHistory deletes run records older than the configured retention.
func pruneHistory(ctx context.Context, tc *scheduler.Context) (any, error) {
	env, err := envFrom(tc)
	if err != nil {
		return nil, err
	}
	if env.Store == nil {
		return nil, ErrNoStore
	}
	retention := env.Retention()
	if retention <= 0 {
		return "retention disabled", nil
	}
	n, err := env.Store.PruneRuns(ctx, env.now().Add(-retention))
	if err != nil {
		return nil, fmt.Errorf("prune runs: %w", err)
	}
	return fmt.Sprintf("pruned %d runs older than %s", n, retention), nil
}

// checkStore verifies the store answers and reports how many runs it holds.
func checkStore(ctx context.Context, tc *scheduler.Context) (any, error) {
	env, err := envFrom(tc)
	if err != nil {
		return nil, err
	}
	if env.Store == nil {
		return nil, ErrNoStore
	}
	if err := env.Store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping store: %w", err)
	}
	n, err := env.Store.CountRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	return fmt.Sprintf("store ok, %d runs", n), nil
}

const beatsKey = "heartbeat.beats"

// heartbeat reports worker uptime and how many beats this worker produced.
func heartbeat(_ context.Context, tc *scheduler.Context) (any, error) {
	now := time.Now()
	if env, err := envFrom(tc); err == nil {
		now = env.now()
	}

	var beats int64
	if v, ok := tc.Get(beatsKey); ok {
		beats, _ = v.(int64)
	}
	beats++
	tc.Set(beatsKey, beats)

	uptime := now.Sub(tc.StartedAt()).Truncate(time.Second)
	return fmt.Sprintf("up %s, beat %d", uptime, beats), nil
}
