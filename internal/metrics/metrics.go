// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors the orchestrator reports into.
type Metrics struct {
	SyncsTotal       *prometheus.CounterVec
	PlatformResults  *prometheus.CounterVec
	ActiveSyncs      prometheus.Gauge
	PublishDuration  *prometheus.HistogramVec
	ImageUploadRetry prometheus.Counter
}

// New creates unregistered collectors.
func New() *Metrics {
	return &Metrics{
		SyncsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crosspost_syncs_total",
			Help: "Completed sync runs by final status.",
		}, []string{"status"}),
		PlatformResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crosspost_platform_results_total",
			Help: "Per-platform publish outcomes.",
		}, []string{"platform", "outcome"}),
		ActiveSyncs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crosspost_active_syncs",
			Help: "Number of syncs currently dispatching (0 or 1).",
		}),
		PublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crosspost_publish_duration_seconds",
			Help:    "Duration of individual publish calls.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 11),
		}, []string{"platform"}),
		ImageUploadRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crosspost_image_upload_retries_total",
			Help: "Image upload attempts beyond the first.",
		}),
	}
}

// Register registers all collectors with the registerer.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.SyncsTotal, m.PlatformResults, m.ActiveSyncs, m.PublishDuration, m.ImageUploadRetry,
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
