package database

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/logger"
)

// Database 聚合数据库连接、健康检查和指标收集
type Database struct {
	db            *gorm.DB
	sqlDB         *sql.DB
	healthChecker *HealthChecker
	metrics       *MetricsCollector
}

// NewDatabase 创建数据库实例并启动附属组件
func NewDatabase(cfg *config.Config) (*Database, error) {
	db, err := Connect(&cfg.Database)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	log := logger.GetLogger()
	return &Database{
		db:            db,
		sqlDB:         sqlDB,
		healthChecker: NewHealthChecker(sqlDB, log),
		metrics:       NewMetricsCollector(sqlDB, log),
	}, nil
}

// GetDB 获取gorm连接
func (d *Database) GetDB() *gorm.DB {
	return d.db
}

// Close 关闭数据库连接
func (d *Database) Close() error {
	if d.sqlDB == nil {
		return nil
	}
	return d.sqlDB.Close()
}

// HealthCheck 健康检查
func (d *Database) HealthCheck() error {
	if d.healthChecker != nil && d.healthChecker.IsHealthy() {
		return nil
	}
	if d.sqlDB == nil {
		return fmt.Errorf("database connection is nil")
	}
	return d.sqlDB.Ping()
}

// StartMonitoring 启动健康检查与指标收集
func (d *Database) StartMonitoring(ctx context.Context) {
	if d.metrics != nil {
		d.metrics.Start()
	}
	if d.healthChecker != nil {
		go d.healthChecker.Start(ctx)
	}
}

// StopMonitoring 停止健康检查与指标收集
func (d *Database) StopMonitoring() {
	if d.healthChecker != nil {
		d.healthChecker.Stop()
	}
	if d.metrics != nil {
		d.metrics.Stop()
	}
}

// GetHealthStatus 获取健康状态
func (d *Database) GetHealthStatus() HealthCheckResult {
	if d.healthChecker != nil {
		return d.healthChecker.GetHealthResult()
	}
	return HealthCheckResult{Healthy: false, LastError: "health checker not initialized"}
}
