package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// TestNilMetricsSafe 未启用指标时全部方法可安全调用
func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics

	m.ObserveSearch("hybrid", "ok", time.Second, 3)
	m.ObserveCache(true)
	m.ObservePipelineStage("extract", time.Millisecond)
	m.EmbeddingRequestsInc("ok")
	m.JobsInFlightAdd(1)
	m.ObserveDocument("completed", 5)
}

// TestMetricsObserve 指标计数正确累加。
// promauto使用全局注册表，New只能在进程内调用一次。
func TestMetricsObserve(t *testing.T) {
	m := New()

	m.ObserveSearch("hybrid", "ok", 120*time.Millisecond, 4)
	m.ObserveSearch("hybrid", "ok", 80*time.Millisecond, 2)
	m.ObserveSearch("keyword", "error", 10*time.Millisecond, 0)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SearchesTotal.WithLabelValues("hybrid", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchesTotal.WithLabelValues("keyword", "error")))

	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("miss")))

	m.ObserveDocument("completed", 7)
	m.ObserveDocument("failed", 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsIndexed.WithLabelValues("completed")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.ChunksIndexed))

	m.JobsInFlightAdd(1)
	m.JobsInFlightAdd(1)
	m.JobsInFlightAdd(-1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsInFlight))

	m.EmbeddingRequestsInc("ok")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbeddingRequests.WithLabelValues("ok")))
}
