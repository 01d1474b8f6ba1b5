package repository

import (
	"context"
	"errors"

	"github.com/aihub/knowledge-go/internal/models"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// KnowledgeBaseListFilter 知识库列表过滤条件
type KnowledgeBaseListFilter struct {
	UserID uint // 过滤该用户可读的知识库，0表示不过滤
	Search string
	Page   int
	Limit  int
}

// KnowledgeBaseRepository 知识库仓库
type KnowledgeBaseRepository interface {
	Create(ctx context.Context, kb *models.KnowledgeBase) error
	GetByID(ctx context.Context, id uint) (*models.KnowledgeBase, error)
	List(ctx context.Context, filter KnowledgeBaseListFilter) ([]models.KnowledgeBase, int64, error)
	ListAutoReindex(ctx context.Context) ([]models.KnowledgeBase, error)
	Update(ctx context.Context, id uint, updates map[string]interface{}) error
	Delete(ctx context.Context, id uint) error
}

// DocumentRepository 文档仓库
type DocumentRepository interface {
	Create(ctx context.Context, doc *models.KnowledgeDocument) error
	GetByID(ctx context.Context, docID uint) (*models.KnowledgeDocument, error)
	GetByChecksum(ctx context.Context, kbID uint, checksum string) (*models.KnowledgeDocument, error)
	ListByKnowledgeBase(ctx context.Context, kbID uint, page, limit int) ([]models.KnowledgeDocument, int64, error)
	CountByKnowledgeBase(ctx context.Context, kbID uint) (int64, error)
	CountActiveByKnowledgeBase(ctx context.Context, kbID uint) (int64, error)
	SumSizeBytes(ctx context.Context, kbID uint) (int64, error)
	Update(ctx context.Context, docID uint, updates map[string]interface{}) error
	Delete(ctx context.Context, docID uint) error
}

// ChunkRepository 分块仓库
type ChunkRepository interface {
	CreateBatch(ctx context.Context, chunks []*models.KnowledgeChunk) error
	ListByDocument(ctx context.Context, docID uint) ([]models.KnowledgeChunk, error)
	CountByKnowledgeBase(ctx context.Context, kbID uint) (int64, error)
	DeleteByDocument(ctx context.Context, docID uint) error
}

// JobRepository 索引任务仓库
type JobRepository interface {
	Create(ctx context.Context, job *models.IndexingJob) error
	GetByID(ctx context.Context, jobID uint) (*models.IndexingJob, error)
	ListByKnowledgeBase(ctx context.Context, kbID uint, limit int) ([]models.IndexingJob, error)
	Update(ctx context.Context, jobID uint, updates map[string]interface{}) error
}

// GraphRepository 知识图谱仓库
type GraphRepository interface {
	ReplaceForDocument(ctx context.Context, kbID, docID uint, nodes []*models.KnowledgeGraphNode, edges []*models.KnowledgeGraphEdge) error
	ListNodes(ctx context.Context, kbID uint, limit int) ([]models.KnowledgeGraphNode, error)
	ListEdges(ctx context.Context, kbID uint, limit int) ([]models.KnowledgeGraphEdge, error)
	Counts(ctx context.Context, kbID uint) (nodes int64, edges int64, err error)
	DeleteByDocument(ctx context.Context, docID uint) error
}

// SearchLogRepository 搜索记录仓库
type SearchLogRepository interface {
	Create(ctx context.Context, record *models.KnowledgeSearch) error
}

// Store 聚合全部仓库，并提供跨表事务
type Store interface {
	KnowledgeBases() KnowledgeBaseRepository
	Documents() DocumentRepository
	Chunks() ChunkRepository
	Jobs() JobRepository
	Graph() GraphRepository
	SearchLogs() SearchLogRepository
	// WithTransaction 在单个事务内执行fn，fn返回错误则整体回滚
	WithTransaction(ctx context.Context, fn func(Store) error) error
}
