// Package metrics exposes job and pipeline counters through a
// prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	JobsStarted     prometheus.Counter
	JobsCompleted   prometheus.Counter
	JobsFailed      prometheus.Counter
	ActiveJobs      prometheus.Gauge
	FramesProcessed prometheus.Counter
	Detections      prometheus.Counter
	EventsPublished *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry.  subscribers,
// when non-nil, is sampled for the connected subscriber gauge
func New(subscribers func() int) *Metrics {

	m := &Metrics{
		JobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackcast_jobs_started_total",
			Help: "Total video jobs accepted",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackcast_jobs_completed_total",
			Help: "Total video jobs that completed successfully",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackcast_jobs_failed_total",
			Help: "Total video jobs that terminated with a failure",
		}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trackcast_active_jobs",
			Help: "Video jobs currently processing",
		}),
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackcast_frames_processed_total",
			Help: "Total frames run through the detector",
		}),
		Detections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackcast_detections_total",
			Help: "Total detections produced",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackcast_events_published_total",
			Help: "Total events published to rooms",
		}, []string{"event"}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.JobsStarted,
		m.JobsCompleted,
		m.JobsFailed,
		m.ActiveJobs,
		m.FramesProcessed,
		m.Detections,
		m.EventsPublished,
	)

	if subscribers != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "trackcast_subscribers_connected",
				Help: "Currently connected event subscribers",
			},
			func() float64 { return float64(subscribers()) },
		))
	}

	return m
}

// Handler returns the HTTP handler serving the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
