package database

import (
	"database/sql"
	"path/filepath"

	"go.uber.org/zap"
)

// MigrationManagerFactory 迁移管理器工厂
type MigrationManagerFactory struct {
	migrationPath string
	logger        *zap.Logger
}

// NewMigrationManagerFactory 创建迁移管理器工厂
func NewMigrationManagerFactory(migrationPath string, log *zap.Logger) *MigrationManagerFactory {
	if migrationPath == "" {
		migrationPath = "./migrations"
	}

	if absPath, err := filepath.Abs(migrationPath); err == nil {
		migrationPath = absPath
	}

	return &MigrationManagerFactory{
		migrationPath: migrationPath,
		logger:        log,
	}
}

// CreateManager 创建迁移管理器
func (f *MigrationManagerFactory) CreateManager(db *sql.DB) (*MigrationManager, error) {
	return NewMigrationManager(db, f.migrationPath, f.logger)
}

// GetMigrationPath 获取迁移文件路径
func (f *MigrationManagerFactory) GetMigrationPath() string {
	return f.migrationPath
}
