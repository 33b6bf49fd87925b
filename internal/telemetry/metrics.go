// Package telemetry holds the Prometheus collectors shared by the index
// cache and the query pipeline. Nothing is exported over the network unless
// the caller registers the collectors with a served registry.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cardrag"

// Partition load sources.
const (
	SourceStore = "store"
	SourceBuild = "build"
	SourceEmpty = "empty"
)

// Metrics groups the collectors. The zero value is not usable; call New.
type Metrics struct {
	// BundleBuilds counts entity bundle builds, partition-backed and
	// individual alike.
	BundleBuilds prometheus.Counter

	// PartitionLoads counts category partition loads by source.
	PartitionLoads *prometheus.CounterVec

	// StageDuration observes pipeline stage latency by stage name.
	StageDuration *prometheus.HistogramVec

	// Queries counts finished queries by result status.
	Queries *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests use to get isolated counters.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BundleBuilds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "bundle_builds_total",
			Help:      "Number of per-card index bundles built",
		}),
		PartitionLoads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "partition_loads_total",
			Help:      "Category partition loads by source (store, build, empty)",
		}, []string{"source"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each query pipeline stage",
			Buckets:   []float64{.005, .025, .1, .5, 1, 2.5, 5, 15, 60},
		}, []string{"stage"}),
		Queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "queries_total",
			Help:      "Finished queries by result status",
		}, []string{"status"}),
	}
}

// ObserveStage records the time since start for stage.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
