package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.AddIncluded("products", 3)
	m.AddIncluded("products", 2)
	m.AddExcluded("products", "noindex", 4)
	m.AddCollisions("products", 1)
	m.IncShardFailure("products", "RetryFailed_Other")
	m.AddBytes("gzip", 128)
	m.IncChange("NEW")
	m.IncEmission()
	m.IncStoreFailure()
	m.ObserveNode("products", true, 250*time.Millisecond)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.urlsIncluded.WithLabelValues("products")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.urlsExcluded.WithLabelValues("products", "noindex")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.collisions.WithLabelValues("products")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shardFailures.WithLabelValues("products", "RetryFailed_Other")))
	assert.Equal(t, 128.0, testutil.ToFloat64(m.bytesWritten.WithLabelValues("gzip")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deltaChanges.WithLabelValues("NEW")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deltaEmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeFailures))
	assert.Equal(t, 1, testutil.CollectAndCount(m.nodeDuration))
}

func TestMetrics_RegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m1, err := New(reg)
	require.NoError(t, err)
	m2, err := New(reg)
	require.NoError(t, err)

	m1.IncEmission()
	m2.IncEmission()
	assert.Equal(t, 2.0, testutil.ToFloat64(m1.deltaEmitted))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AddIncluded("x", 1)
		m.AddExcluded("x", "y", 1)
		m.IncShardFailure("x", "y")
		m.ObserveNode("x", false, time.Second)
		m.IncChange("NEW")
		m.IncEmission()
		m.IncStoreFailure()
	})
}
