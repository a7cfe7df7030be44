package recommend

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/assessrec-go/internal/failure"
)

// Request outcomes.
const (
	outcomeOK    = "ok"
	outcomeEmpty = "empty"
	outcomeError = "error"
)

// Metrics holds the pipeline's Prometheus metrics. It implements
// failure.Recorder so every stage can count degradations in one place.
// Create one per registry; tests pass a fresh prometheus.Registry.
type Metrics struct {
	// stageFailures counts failures by kind, recovered or not.
	stageFailures *prometheus.CounterVec

	// requestsTotal counts Recommend calls by outcome: "ok", "empty", "error".
	requestsTotal *prometheus.CounterVec

	// durationSeconds records Recommend latency by outcome.
	durationSeconds *prometheus.HistogramVec

	// resultsReturned records how many entries each successful call returned.
	resultsReturned prometheus.Histogram
}

// NewMetrics registers the pipeline metrics against reg. Every failure kind
// is pre-initialised so dashboards see zeroes rather than missing series.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		stageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assessrec",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Pipeline stage failures, partitioned by failure kind.",
		}, []string{"kind"}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assessrec",
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Recommendation requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		durationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "assessrec",
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of recommendation requests.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),

		resultsReturned: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "assessrec",
			Subsystem: "pipeline",
			Name:      "results_returned",
			Help:      "Number of recommendations returned per request.",
			Buckets:   []float64{0, 1, 3, 5, 10, 20},
		}),
	}
	for _, k := range failure.Kinds {
		m.stageFailures.WithLabelValues(string(k))
	}
	return m
}

// Record implements failure.Recorder.
func (m *Metrics) Record(kind failure.Kind) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) observe(outcome string, start time.Time, results int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.durationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if outcome != outcomeError {
		m.resultsReturned.Observe(float64(results))
	}
}
