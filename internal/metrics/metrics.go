package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 检索与索引管线的Prometheus指标
type Metrics struct {
	SearchesTotal     *prometheus.CounterVec
	SearchDuration    *prometheus.HistogramVec
	SearchResults     prometheus.Histogram
	CacheHitsTotal    *prometheus.CounterVec
	DocumentsIndexed  *prometheus.CounterVec
	ChunksIndexed     prometheus.Counter
	PipelineDuration  *prometheus.HistogramVec
	JobsInFlight      prometheus.Gauge
	EmbeddingRequests *prometheus.CounterVec
}

// New 注册并返回指标集合
func New() *Metrics {
	return &Metrics{
		SearchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knowledge_searches_total",
				Help: "Total number of search requests by mode and status",
			},
			[]string{"mode", "status"},
		),
		SearchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "knowledge_search_duration_seconds",
				Help:    "Duration of search requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		SearchResults: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "knowledge_search_results",
				Help:    "Number of results returned per search",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knowledge_search_cache_total",
				Help: "Search cache lookups by outcome",
			},
			[]string{"outcome"},
		),
		DocumentsIndexed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knowledge_documents_indexed_total",
				Help: "Documents processed by the indexing pipeline by status",
			},
			[]string{"status"},
		),
		ChunksIndexed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "knowledge_chunks_indexed_total",
				Help: "Total chunks written to the vector store",
			},
		),
		PipelineDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "knowledge_pipeline_duration_seconds",
				Help:    "Duration of indexing pipeline stages",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		JobsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "knowledge_indexing_jobs_in_flight",
				Help: "Number of indexing jobs currently running",
			},
		),
		EmbeddingRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knowledge_embedding_requests_total",
				Help: "Embedding provider calls by status",
			},
			[]string{"status"},
		),
	}
}

// ObserveSearch 记录一次检索
func (m *Metrics) ObserveSearch(mode string, status string, dur time.Duration, results int) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(mode, status).Inc()
	m.SearchDuration.WithLabelValues(mode).Observe(dur.Seconds())
	if status == "ok" {
		m.SearchResults.Observe(float64(results))
	}
}

// ObserveCache 记录缓存命中情况
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues("hit").Inc()
	} else {
		m.CacheHitsTotal.WithLabelValues("miss").Inc()
	}
}

// ObservePipelineStage 记录管线阶段耗时
func (m *Metrics) ObservePipelineStage(stage string, dur time.Duration) {
	if m == nil {
		return
	}
	m.PipelineDuration.WithLabelValues(stage).Observe(dur.Seconds())
}

// EmbeddingRequestsInc 记录一次embedding调用
func (m *Metrics) EmbeddingRequestsInc(status string) {
	if m == nil {
		return
	}
	m.EmbeddingRequests.WithLabelValues(status).Inc()
}

// JobsInFlightAdd 调整运行中任务计数
func (m *Metrics) JobsInFlightAdd(delta float64) {
	if m == nil {
		return
	}
	m.JobsInFlight.Add(delta)
}

// ObserveDocument 记录文档处理结果
func (m *Metrics) ObserveDocument(status string, chunks int) {
	if m == nil {
		return
	}
	m.DocumentsIndexed.WithLabelValues(status).Inc()
	if chunks > 0 {
		m.ChunksIndexed.Add(float64(chunks))
	}
}
