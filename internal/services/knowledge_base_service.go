package services

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/logger"
	"github.com/aihub/knowledge-go/internal/models"
	"github.com/aihub/knowledge-go/internal/repository"
)

// CreateKnowledgeBaseRequest 创建知识库请求
type CreateKnowledgeBaseRequest struct {
	Name            string   `json:"name" validate:"required,min=1,max=200"`
	Description     string   `json:"description" validate:"max=1000"`
	Type            string   `json:"type" validate:"omitempty,oneof=text multimodal dynamic"`
	IsPublic        bool     `json:"is_public"`
	ReaderIDs       []uint   `json:"reader_ids"`
	WriterIDs       []uint   `json:"writer_ids"`
	ChunkSize       int      `json:"chunk_size"`
	ChunkOverlap    int      `json:"chunk_overlap"`
	MaxDocuments    int      `json:"max_documents"`
	MaxSizeBytes    int64    `json:"max_size_bytes"`
	EmbeddingModel  string   `json:"embedding_model" validate:"max=100"`
	SearchThreshold *float64 `json:"search_threshold" validate:"omitempty,gte=0,lte=1"`
	AutoReindex     bool     `json:"auto_reindex"`
}

// UpdateKnowledgeBaseRequest 更新知识库请求，nil字段不变
type UpdateKnowledgeBaseRequest struct {
	Name            *string  `json:"name" validate:"omitempty,min=1,max=200"`
	Description     *string  `json:"description" validate:"omitempty,max=1000"`
	IsPublic        *bool    `json:"is_public"`
	ReaderIDs       []uint   `json:"reader_ids"`
	WriterIDs       []uint   `json:"writer_ids"`
	SearchThreshold *float64 `json:"search_threshold" validate:"omitempty,gte=0,lte=1"`
	AutoReindex     *bool    `json:"auto_reindex"`
}

// KnowledgeBaseStats 知识库聚合统计
type KnowledgeBaseStats struct {
	KnowledgeBaseID      uint           `json:"knowledge_base_id"`
	DocumentCount        int            `json:"document_count"`
	ChunkCount           int            `json:"chunk_count"`
	EmbeddingCount       int            `json:"embedding_count"`
	TotalSizeBytes       int64          `json:"total_size_bytes"`
	GraphNodeCount       int            `json:"graph_node_count"`
	GraphEdgeCount       int            `json:"graph_edge_count"`
	TypeDistribution     map[string]int `json:"type_distribution"`
	LanguageDistribution map[string]int `json:"language_distribution"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// KnowledgeGraph 知识图谱视图
type KnowledgeGraph struct {
	KnowledgeBaseID uint                        `json:"knowledge_base_id"`
	Nodes           []models.KnowledgeGraphNode `json:"nodes"`
	Edges           []models.KnowledgeGraphEdge `json:"edges"`
}

// KnowledgeBaseService 知识库注册与权限服务
type KnowledgeBaseService struct {
	store repository.Store
}

// NewKnowledgeBaseService 创建知识库服务
func NewKnowledgeBaseService(store repository.Store) *KnowledgeBaseService {
	return &KnowledgeBaseService{store: store}
}

// CanRead 用户是否可读该知识库
func CanRead(kb *models.KnowledgeBase, userID uint) bool {
	if kb.IsPublic || kb.OwnerID == userID {
		return true
	}
	for _, id := range models.ParseIDList(kb.ReaderIDs) {
		if id == userID {
			return true
		}
	}
	return CanWrite(kb, userID)
}

// CanWrite 用户是否可写该知识库
func CanWrite(kb *models.KnowledgeBase, userID uint) bool {
	if kb.OwnerID == userID {
		return true
	}
	for _, id := range models.ParseIDList(kb.WriterIDs) {
		if id == userID {
			return true
		}
	}
	return false
}

// CreateKnowledgeBase 创建知识库
func (s *KnowledgeBaseService) CreateKnowledgeBase(ctx context.Context, userID uint, req CreateKnowledgeBaseRequest) (*models.KnowledgeBase, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = 1000
	}
	chunkOverlap := req.ChunkOverlap
	if req.ChunkSize == 0 && req.ChunkOverlap == 0 {
		chunkOverlap = 200
	}
	if err := validateChunkSettings(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}

	kbType := req.Type
	if kbType == "" {
		kbType = models.KnowledgeBaseTypeText
	}
	maxDocuments := req.MaxDocuments
	if maxDocuments <= 0 {
		maxDocuments = 1000
	}
	maxSizeBytes := req.MaxSizeBytes
	if maxSizeBytes <= 0 {
		maxSizeBytes = 100 * 1024 * 1024
	}
	threshold := 0.7
	if req.SearchThreshold != nil {
		threshold = *req.SearchThreshold
	}

	now := time.Now()
	kb := &models.KnowledgeBase{
		Name:            req.Name,
		Description:     req.Description,
		Type:            kbType,
		OwnerID:         userID,
		IsPublic:        req.IsPublic,
		ReaderIDs:       models.EncodeIDList(req.ReaderIDs),
		WriterIDs:       models.EncodeIDList(req.WriterIDs),
		Status:          "active",
		ChunkSize:       chunkSize,
		ChunkOverlap:    chunkOverlap,
		MaxDocuments:    maxDocuments,
		MaxSizeBytes:    maxSizeBytes,
		EmbeddingModel:  req.EmbeddingModel,
		SearchThreshold: threshold,
		AutoReindex:     req.AutoReindex,
		TypeDistJSON:    "{}",
		LangDistJSON:    "{}",
		CreateTime:      now,
		UpdateTime:      now,
	}

	if err := s.store.KnowledgeBases().Create(ctx, kb); err != nil {
		logger.Error("创建知识库失败", zap.Error(err), zap.Uint("user_id", userID))
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to create knowledge base").WithCause(err)
	}

	logger.Info("知识库创建成功",
		zap.Uint("knowledge_base_id", kb.KnowledgeBaseID),
		zap.String("name", kb.Name),
		zap.Uint("owner_id", userID))
	return kb, nil
}

// GetKnowledgeBase 获取单个知识库，要求读权限
func (s *KnowledgeBaseService) GetKnowledgeBase(ctx context.Context, kbID, userID uint) (*models.KnowledgeBase, error) {
	kb, err := s.loadKB(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if !CanRead(kb, userID) {
		return nil, errors.NewPermissionDeniedError("knowledge base")
	}
	return kb, nil
}

// ListKnowledgeBases 分页列出用户可读的知识库
func (s *KnowledgeBaseService) ListKnowledgeBases(ctx context.Context, userID uint, page, limit int, search string) ([]models.KnowledgeBase, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	kbs, total, err := s.store.KnowledgeBases().List(ctx, repository.KnowledgeBaseListFilter{
		UserID: userID,
		Search: search,
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		logger.Error("查询知识库列表失败", zap.Error(err), zap.Uint("user_id", userID))
		return nil, 0, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to list knowledge bases").WithCause(err)
	}
	return kbs, total, nil
}

// ListReadableIDs 返回用户可读的全部知识库ID，用于无显式范围的检索
func (s *KnowledgeBaseService) ListReadableIDs(ctx context.Context, userID uint) ([]uint, []float64, error) {
	kbs, _, err := s.store.KnowledgeBases().List(ctx, repository.KnowledgeBaseListFilter{
		UserID: userID,
		Page:   1,
		Limit:  1000,
	})
	if err != nil {
		return nil, nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to resolve readable knowledge bases").WithCause(err)
	}

	ids := make([]uint, 0, len(kbs))
	thresholds := make([]float64, 0, len(kbs))
	for _, kb := range kbs {
		ids = append(ids, kb.KnowledgeBaseID)
		thresholds = append(thresholds, kb.SearchThreshold)
	}
	return ids, thresholds, nil
}

// UpdateKnowledgeBase 更新知识库，要求写权限；权限集变更仅限所有者
func (s *KnowledgeBaseService) UpdateKnowledgeBase(ctx context.Context, kbID, userID uint, req UpdateKnowledgeBaseRequest) (*models.KnowledgeBase, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	kb, err := s.loadKB(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if !CanWrite(kb, userID) {
		return nil, errors.NewPermissionDeniedError("knowledge base")
	}

	updates := map[string]interface{}{"update_time": time.Now()}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.SearchThreshold != nil {
		updates["search_threshold"] = *req.SearchThreshold
	}
	if req.AutoReindex != nil {
		updates["auto_reindex"] = *req.AutoReindex
	}
	if req.IsPublic != nil || req.ReaderIDs != nil || req.WriterIDs != nil {
		if kb.OwnerID != userID {
			return nil, errors.NewPermissionDeniedError("knowledge base permissions")
		}
		if req.IsPublic != nil {
			updates["is_public"] = *req.IsPublic
		}
		if req.ReaderIDs != nil {
			updates["reader_ids"] = models.EncodeIDList(req.ReaderIDs)
		}
		if req.WriterIDs != nil {
			updates["writer_ids"] = models.EncodeIDList(req.WriterIDs)
		}
	}

	if err := s.store.KnowledgeBases().Update(ctx, kbID, updates); err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NewNotFoundError(errors.ErrCodeKnowledgeBaseNotFound, "knowledge base")
		}
		logger.Error("更新知识库失败", zap.Error(err), zap.Uint("knowledge_base_id", kbID))
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to update knowledge base").WithCause(err)
	}

	return s.loadKB(ctx, kbID)
}

// DeleteKnowledgeBase 删除知识库，仅所有者
func (s *KnowledgeBaseService) DeleteKnowledgeBase(ctx context.Context, kbID, userID uint) error {
	kb, err := s.loadKB(ctx, kbID)
	if err != nil {
		return err
	}
	if kb.OwnerID != userID {
		return errors.NewPermissionDeniedError("knowledge base")
	}

	if err := s.store.KnowledgeBases().Delete(ctx, kbID); err != nil {
		logger.Error("删除知识库失败", zap.Error(err), zap.Uint("knowledge_base_id", kbID))
		return errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to delete knowledge base").WithCause(err)
	}

	logger.Info("知识库已删除", zap.Uint("knowledge_base_id", kbID), zap.Uint("user_id", userID))
	return nil
}

// GetStats 返回聚合统计快照，仅由提交成功的文档驱动
func (s *KnowledgeBaseService) GetStats(ctx context.Context, kbID, userID uint) (*KnowledgeBaseStats, error) {
	kb, err := s.GetKnowledgeBase(ctx, kbID, userID)
	if err != nil {
		return nil, err
	}

	return &KnowledgeBaseStats{
		KnowledgeBaseID:      kb.KnowledgeBaseID,
		DocumentCount:        kb.DocumentCount,
		ChunkCount:           kb.ChunkCount,
		EmbeddingCount:       kb.EmbeddingCount,
		TotalSizeBytes:       kb.TotalSizeBytes,
		GraphNodeCount:       kb.GraphNodeCount,
		GraphEdgeCount:       kb.GraphEdgeCount,
		TypeDistribution:     decodeDistribution(kb.TypeDistJSON),
		LanguageDistribution: decodeDistribution(kb.LangDistJSON),
		UpdatedAt:            kb.StatsUpdateTime,
	}, nil
}

// GetKnowledgeGraph 返回知识库的实体与关系视图
func (s *KnowledgeBaseService) GetKnowledgeGraph(ctx context.Context, kbID, userID uint, limit int) (*KnowledgeGraph, error) {
	if _, err := s.GetKnowledgeBase(ctx, kbID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	nodes, err := s.store.Graph().ListNodes(ctx, kbID, limit)
	if err != nil {
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to load graph nodes").WithCause(err)
	}
	edges, err := s.store.Graph().ListEdges(ctx, kbID, limit)
	if err != nil {
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to load graph edges").WithCause(err)
	}

	return &KnowledgeGraph{KnowledgeBaseID: kbID, Nodes: nodes, Edges: edges}, nil
}

func (s *KnowledgeBaseService) loadKB(ctx context.Context, kbID uint) (*models.KnowledgeBase, error) {
	kb, err := s.store.KnowledgeBases().GetByID(ctx, kbID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NewNotFoundError(errors.ErrCodeKnowledgeBaseNotFound, "knowledge base")
		}
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to load knowledge base").WithCause(err)
	}
	return kb, nil
}

func decodeDistribution(raw string) map[string]int {
	out := map[string]int{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
