package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	// Given: a private registry
	reg := prometheus.NewRegistry()

	// When: metrics are created and touched
	m := New(reg)
	m.BundleBuilds.Inc()
	m.PartitionLoads.WithLabelValues(SourceBuild).Inc()
	m.ObserveStage("retrieve", time.Now())
	m.Queries.WithLabelValues("found").Inc()

	// Then: every family is gathered
	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"cardrag_index_bundle_builds_total",
		"cardrag_index_partition_loads_total",
		"cardrag_pipeline_stage_duration_seconds",
		"cardrag_pipeline_queries_total",
	}, names)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BundleBuilds))
}

func TestNew_NilRegistererIsolated(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.BundleBuilds.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.BundleBuilds))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.BundleBuilds))
	assert.Equal(t, 1, testutil.CollectAndCount(a.BundleBuilds))
}
