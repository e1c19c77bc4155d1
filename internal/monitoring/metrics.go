package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports pipeline and queue activity to Prometheus. It satisfies
// both pipeline.Observer and queue.Observer.
type Metrics struct {
	stages      *prometheus.CounterVec
	inflight    prometheus.Gauge
	iterations  prometheus.Histogram
	submissions *prometheus.CounterVec
	queueDepth  prometheus.Gauge
	tasks       *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		stages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "factcheck_stage_total",
			Help: "Pipeline stage outcomes by stage.",
		}, []string{"stage", "outcome"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "factcheck_inflight",
			Help: "Fact-check executions currently holding a slot.",
		}),
		iterations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "factcheck_note_iterations",
			Help:    "Writer iterations needed per note.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "factcheck_submissions_total",
			Help: "Note submission attempts by outcome.",
		}, []string{"outcome"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "factcheck_queue_depth",
			Help: "Tasks waiting in the in-process queue.",
		}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "factcheck_queue_tasks_total",
			Help: "Queue task outcomes by kind.",
		}, []string{"kind", "outcome"}),
	}
}

func (m *Metrics) ObserveStage(stage, outcome string) {
	m.stages.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) AddInflight(delta int) {
	m.inflight.Add(float64(delta))
}

func (m *Metrics) ObserveNoteIterations(n int) {
	m.iterations.Observe(float64(n))
}

func (m *Metrics) ObserveSubmission(outcome string) {
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) ObserveTask(kind, outcome string) {
	m.tasks.WithLabelValues(kind, outcome).Inc()
}
