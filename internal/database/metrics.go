package database

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// MetricsCollector 数据库指标收集器
type MetricsCollector struct {
	db              *sql.DB
	logger          *zap.Logger
	collectInterval time.Duration
	stopChan        chan struct{}

	dbConnectionsGauge *prometheus.GaugeVec
	dbQueriesCounter   *prometheus.CounterVec
	dbQueryDuration    *prometheus.HistogramVec
	dbErrorsCounter    *prometheus.CounterVec
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector(db *sql.DB, log *zap.Logger) *MetricsCollector {
	mc := &MetricsCollector{
		db:              db,
		logger:          log,
		collectInterval: 15 * time.Second,
		stopChan:        make(chan struct{}),
	}
	mc.registerMetrics()
	return mc
}

func (mc *MetricsCollector) registerMetrics() {
	mc.dbConnectionsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "knowledge_db_connections",
			Help: "Number of database connections in different states",
		},
		[]string{"state"},
	)

	mc.dbQueriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_db_queries_total",
			Help: "Total number of database queries executed",
		},
		[]string{"operation", "table", "status"},
	)

	mc.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "knowledge_db_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	mc.dbErrorsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_db_errors_total",
			Help: "Total number of database errors",
		},
		[]string{"operation", "error_type"},
	)
}

// Start 开始周期收集连接池指标
func (mc *MetricsCollector) Start() {
	mc.logger.Info("数据库指标收集启动")

	go func() {
		ticker := time.NewTicker(mc.collectInterval)
		defer ticker.Stop()

		for {
			select {
			case <-mc.stopChan:
				return
			case <-ticker.C:
				mc.collectMetrics()
			}
		}
	}()
}

// Stop 停止指标收集
func (mc *MetricsCollector) Stop() {
	close(mc.stopChan)
}

func (mc *MetricsCollector) collectMetrics() {
	stats := mc.db.Stats()

	mc.dbConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
	mc.dbConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
	mc.dbConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
	mc.dbConnectionsGauge.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
}

// RecordQuery 记录查询操作
func (mc *MetricsCollector) RecordQuery(operation, table string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		mc.dbErrorsCounter.WithLabelValues(operation, "query_error").Inc()
	}

	mc.dbQueriesCounter.WithLabelValues(operation, table, status).Inc()
	mc.dbQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordConnectionError 记录连接错误
func (mc *MetricsCollector) RecordConnectionError(errorType string) {
	mc.dbErrorsCounter.WithLabelValues("connection", errorType).Inc()
}

// GetStats 获取当前连接池统计信息
func (mc *MetricsCollector) GetStats() sql.DBStats {
	return mc.db.Stats()
}
