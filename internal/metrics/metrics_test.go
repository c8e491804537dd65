package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/internal/scheduler"
	logx "cadence/pkg/logx"
)

func TestRecorderCountsOutcomes(t *testing.T) {
	t.Parallel()
	r := New()
	now := time.Now()

	r.OnOutcome(scheduler.Outcome{Task: "a", Started: now, Finished: now.Add(time.Millisecond)})
	r.OnOutcome(scheduler.Outcome{Task: "a", Started: now, Finished: now, Err: errors.New("x")})
	r.OnOutcome(scheduler.Outcome{Task: "b", Single: true, Removed: true, Err: scheduler.ErrPanicked, Panicked: true})
	r.OnTick(scheduler.TickStats{Started: now, Duration: time.Millisecond, Tasks: 2, Executed: 3})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("a", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("a", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("b", "panic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.removed))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ticks))
}

func TestHandlerExposesSchedulerGauges(t *testing.T) {
	t.Parallel()
	r := New()
	s := scheduler.New(scheduler.Config{}, logx.Nop())
	require.NoError(t, s.AddFunc("x", false, false, time.Minute, false, func(_ context.Context, _ *scheduler.Context) (any, error) { return nil, nil }))
	r.WatchScheduler(s)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "cadence_tasks_registered 1")
	assert.Contains(t, body, "cadence_runner_up 0")
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
