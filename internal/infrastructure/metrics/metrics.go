package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/recallbot/internal/domain"
)

const namespace = "recallbot"

// Recorder exposes pipeline metrics on its own registry.
type Recorder struct {
	reg *prometheus.Registry

	runs          *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	inserted      *prometheus.CounterVec
	published     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

func New() *Recorder {
	r := &Recorder{reg: prometheus.NewRegistry()}
	r.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Finished pipeline runs by source and outcome",
	}, []string{"source", "outcome"})
	r.stageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_failures_total",
		Help:      "Runs that failed, by stage",
	}, []string{"stage"})
	r.inserted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recalls_inserted_total",
		Help:      "Recalls newly inserted by dedupe-insert",
	}, []string{"source"})
	r.published = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_total",
		Help:      "Broadcast attempts by broadcaster and outcome",
	}, []string{"broadcaster", "outcome"})
	r.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Time spent in each pipeline stage",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
	}, []string{"stage"})

	r.reg.MustRegister(
		r.runs, r.stageFailures, r.inserted, r.published, r.stageDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Recorder) RunFinished(source string, status domain.RunStatus) {
	r.runs.WithLabelValues(sourceLabel(source), string(status)).Inc()
}

func (r *Recorder) StageFailed(stage domain.Stage) {
	r.stageFailures.WithLabelValues(string(stage)).Inc()
}

func (r *Recorder) StageDuration(stage domain.Stage, d time.Duration) {
	r.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (r *Recorder) RecallsInserted(source string, n int) {
	r.inserted.WithLabelValues(sourceLabel(source)).Add(float64(n))
}

func (r *Recorder) Published(broadcaster, outcome string) {
	r.published.WithLabelValues(broadcaster, outcome).Inc()
}

func sourceLabel(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
