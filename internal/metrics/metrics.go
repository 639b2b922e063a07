// Package metrics exports Prometheus metrics about training runs.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/conceptmaps/trainsvc/internal/model"
)

const namespace = "trainsvc"

// Runs observes run lifecycle events and is a prometheus.Collector.
type Runs struct {
	started  *prometheus.CounterVec
	finished *prometheus.CounterVec
	active   *prometheus.GaugeVec
	duration *prometheus.HistogramVec
}

func NewRuns() *Runs {
	return &Runs{
		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Number of training runs started, including runs which failed to prepare their data.",
			},
			[]string{"job_type"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_finished_total",
				Help:      "Number of finished training runs by final state.",
			},
			[]string{"job_type", "state"},
		),
		active: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_active",
				Help:      "Number of training runs in progress.",
			},
			[]string{"job_type"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of finished training runs.",
				// a run takes from seconds (failed conversion) to hours
				Buckets: prometheus.ExponentialBuckets(1, 4, 9),
			},
			[]string{"job_type", "state"},
		),
	}
}

func (r *Runs) RunStarted(_ context.Context, run model.Run) {
	r.started.WithLabelValues(run.JobType).Inc()
	r.active.WithLabelValues(run.JobType).Inc()
}

func (r *Runs) RunFinished(_ context.Context, run model.Run) {
	r.finished.WithLabelValues(run.JobType, run.State).Inc()
	r.active.WithLabelValues(run.JobType).Dec()
	r.duration.WithLabelValues(run.JobType, run.State).Observe(run.Duration().Seconds())
}

func (r *Runs) Describe(ch chan<- *prometheus.Desc) {
	r.started.Describe(ch)
	r.finished.Describe(ch)
	r.active.Describe(ch)
	r.duration.Describe(ch)
}

func (r *Runs) Collect(ch chan<- prometheus.Metric) {
	r.started.Collect(ch)
	r.finished.Collect(ch)
	r.active.Collect(ch)
	r.duration.Collect(ch)
}

// NewRegistry returns a registry with the run metrics and the standard Go
// and process collectors.
func NewRegistry(runs *Runs) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		runs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
