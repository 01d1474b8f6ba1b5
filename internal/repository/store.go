package repository

import (
	"context"

	"gorm.io/gorm"
)

// gormStore 基于gorm的仓库聚合实现
type gormStore struct {
	db *gorm.DB
}

// NewStore 创建数据库仓库
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) KnowledgeBases() KnowledgeBaseRepository {
	return &knowledgeBaseRepository{db: s.db}
}

func (s *gormStore) Documents() DocumentRepository {
	return &documentRepository{db: s.db}
}

func (s *gormStore) Chunks() ChunkRepository {
	return &chunkRepository{db: s.db}
}

func (s *gormStore) Jobs() JobRepository {
	return &jobRepository{db: s.db}
}

func (s *gormStore) Graph() GraphRepository {
	return &graphRepository{db: s.db}
}

func (s *gormStore) SearchLogs() SearchLogRepository {
	return &searchLogRepository{db: s.db}
}

func (s *gormStore) WithTransaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}
