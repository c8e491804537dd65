// Package metrics exposes scheduler activity as prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cadence/internal/scheduler"
)

const namespace = "cadence"

// Recorder implements scheduler.Observer and scheduler.TickObserver.
type Recorder struct {
	reg *prometheus.Registry

	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	removed  prometheus.Counter
	ticks    prometheus.Counter
	tickDur  prometheus.Histogram
	executed prometheus.Histogram
}

var (
	_ scheduler.Observer     = (*Recorder)(nil)
	_ scheduler.TickObserver = (*Recorder)(nil)
)

// New registers the scheduler collectors, plus Go runtime and process
// collectors, on a private registry.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Task executions by outcome (ok, error, panic).",
		}, []string{"task", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_run_duration_seconds",
			Help:      "Wall time of task executions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"task"}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "single_tasks_removed_total",
			Help:      "Single-run tasks removed after executing.",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Runner ticks.",
		}),
		tickDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a tick, including every task it executed.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 12),
		}),
		executed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_executed_tasks",
			Help:      "Tasks executed per tick.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),
	}
	r.reg.MustRegister(
		r.runs, r.duration, r.removed, r.ticks, r.tickDur, r.executed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// WatchScheduler exports registry gauges read from s at scrape time.
func (r *Recorder) WatchScheduler(s *scheduler.Scheduler) {
	r.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_registered",
			Help:      "Tasks currently in the registry.",
		}, func() float64 { return float64(len(s.Names())) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runner_up",
			Help:      "1 while the runner goroutine exists.",
		}, func() float64 {
			if s.Running() {
				return 1
			}
			return 0
		}),
	)
}

func (r *Recorder) OnOutcome(o scheduler.Outcome) {
	outcome := "ok"
	switch {
	case o.Panicked:
		outcome = "panic"
	case o.Err != nil:
		outcome = "error"
	}
	r.runs.WithLabelValues(o.Task, outcome).Inc()
	r.duration.WithLabelValues(o.Task).Observe(o.Duration().Seconds())
	if o.Removed {
		r.removed.Inc()
	}
}

func (r *Recorder) OnTick(st scheduler.TickStats) {
	r.ticks.Inc()
	r.tickDur.Observe(st.Duration.Seconds())
	r.executed.Observe(float64(st.Executed))
}

// Registry is the underlying registry (tests, extra collectors).
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
