package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pricecast/internal/pipeline"
)

var _ pipeline.Observer = (*Recorder)(nil)

// Recorder implements pipeline.Observer using Prometheus.
type Recorder struct {
	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	epochs       *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	inFlight     prometheus.Gauge
}

// New creates a recorder registered on reg
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		runsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecast_runs_started_total",
				Help: "Total number of prediction runs started",
			},
			[]string{"symbol"},
		),
		runsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecast_runs_finished_total",
				Help: "Total number of prediction runs finished, by final state and error code",
			},
			[]string{"state", "code"},
		),
		epochs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecast_training_epochs_total",
				Help: "Total number of training epochs completed",
			},
			[]string{"symbol"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricecast_run_duration_seconds",
				Help:    "Duration of prediction runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"state"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricecast_runs_in_flight",
				Help: "Number of prediction runs currently executing",
			},
		),
	}
}

// RunStarted records a run start
func (r *Recorder) RunStarted(symbol string) {
	r.runsStarted.WithLabelValues(symbol).Inc()
	r.inFlight.Inc()
}

// EpochCompleted records a finished training epoch
func (r *Recorder) EpochCompleted(symbol string) {
	r.epochs.WithLabelValues(symbol).Inc()
}

// RunFinished records the outcome and duration of a run
func (r *Recorder) RunFinished(symbol string, state pipeline.State, code pipeline.Code, elapsed time.Duration) {
	r.inFlight.Dec()
	r.runsFinished.WithLabelValues(state.String(), string(code)).Inc()
	r.runDuration.WithLabelValues(state.String()).Observe(elapsed.Seconds())
}
