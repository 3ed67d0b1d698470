package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sitemap"

// Metrics holds the generator and delta tracker instruments.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	urlsIncluded  *prometheus.CounterVec
	urlsExcluded  *prometheus.CounterVec
	collisions    *prometheus.CounterVec
	shardFailures *prometheus.CounterVec
	nodeDuration  *prometheus.HistogramVec
	bytesWritten  *prometheus.CounterVec
	deltaChanges  *prometheus.CounterVec
	deltaEmitted  prometheus.Counter
	storeFailures prometheus.Counter
}

// New registers all instruments on reg. Registering twice on the same registerer
// returns the existing collectors.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.urlsIncluded, err = newCounterVec(reg, "urls_included_total",
		"URLs written to sitemap files", "node"); err != nil {
		return nil, err
	}
	if m.urlsExcluded, err = newCounterVec(reg, "urls_excluded_total",
		"Candidates rejected by hygiene rules", "node", "reason"); err != nil {
		return nil, err
	}
	if m.collisions, err = newCounterVec(reg, "url_collisions_total",
		"Duplicate candidates dropped after normalization", "node"); err != nil {
		return nil, err
	}
	if m.shardFailures, err = newCounterVec(reg, "shard_failures_total",
		"Shards that failed to fetch or serialize", "node", "category"); err != nil {
		return nil, err
	}
	if m.nodeDuration, err = newHistogramVec(reg, "node_generation_duration_seconds",
		"Time to generate one node", prometheus.ExponentialBuckets(0.05, 2, 14), "node", "status"); err != nil {
		return nil, err
	}
	if m.bytesWritten, err = newCounterVec(reg, "bytes_written_total",
		"Bytes written to sitemap files", "encoding"); err != nil {
		return nil, err
	}
	if m.deltaChanges, err = newCounterVec(reg, "delta_changes_total",
		"URL fingerprint changes detected", "change_type"); err != nil {
		return nil, err
	}
	if m.deltaEmitted, err = newCounter(reg, "delta_emissions_total",
		"Delta sitemaps written"); err != nil {
		return nil, err
	}
	if m.storeFailures, err = newCounter(reg, "hash_store_failures_total",
		"Comparisons that could not reach the hash store"); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			if existing, ok := e.ExistingCollector.(T); ok {
				return existing, nil
			}
			return c, fmt.Errorf("metric %s already registered with a different type", name)
		}
		return c, err
	}
	return c, nil
}

func newCounter(reg prometheus.Registerer, name, help string) (prometheus.Counter, error) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	return register[prometheus.Counter](reg, c, name)
}

func newCounterVec(reg prometheus.Registerer, name, help string, labels ...string) (*prometheus.CounterVec, error) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	return register(reg, c, name)
}

func newHistogramVec(reg prometheus.Registerer, name, help string, buckets []float64, labels ...string) (*prometheus.HistogramVec, error) {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
	return register(reg, h, name)
}

// AddIncluded counts URLs written for node
func (m *Metrics) AddIncluded(node string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.urlsIncluded.WithLabelValues(node).Add(float64(n))
}

// AddExcluded counts candidates rejected for reason
func (m *Metrics) AddExcluded(node, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.urlsExcluded.WithLabelValues(node, reason).Add(float64(n))
}

// AddCollisions counts dropped duplicates
func (m *Metrics) AddCollisions(node string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.collisions.WithLabelValues(node).Add(float64(n))
}

// IncShardFailure counts a failed shard by error category
func (m *Metrics) IncShardFailure(node, category string) {
	if m == nil {
		return
	}
	m.shardFailures.WithLabelValues(node, category).Inc()
}

// ObserveNode records how long a node took
func (m *Metrics) ObserveNode(node string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.nodeDuration.WithLabelValues(node, status).Observe(d.Seconds())
}

// AddBytes counts bytes written; encoding is "raw" or "gzip"
func (m *Metrics) AddBytes(encoding string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesWritten.WithLabelValues(encoding).Add(float64(n))
}

// IncChange counts one detected change
func (m *Metrics) IncChange(changeType string) {
	if m == nil {
		return
	}
	m.deltaChanges.WithLabelValues(changeType).Inc()
}

// IncEmission counts one written delta sitemap
func (m *Metrics) IncEmission() {
	if m == nil {
		return
	}
	m.deltaEmitted.Inc()
}

// IncStoreFailure counts one comparison that could not reach the store
func (m *Metrics) IncStoreFailure() {
	if m == nil {
		return
	}
	m.storeFailures.Inc()
}
