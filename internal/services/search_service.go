package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/knowledge"
	"github.com/aihub/knowledge-go/internal/logger"
	"github.com/aihub/knowledge-go/internal/metrics"
	"github.com/aihub/knowledge-go/internal/models"
	"github.com/aihub/knowledge-go/internal/repository"
)

// SearchInput 对外检索请求
type SearchInput struct {
	Query             string                  `json:"query" validate:"required,min=1,max=1000"`
	KnowledgeBaseID   uint                    `json:"knowledge_base_id"` // 0表示检索全部可读知识库
	Mode              string                  `json:"mode" validate:"omitempty,oneof=semantic keyword hybrid"`
	Threshold         float64                 `json:"threshold" validate:"gte=0,lte=1"`
	MinRelevanceScore float64                 `json:"min_relevance_score" validate:"gte=0,lte=1"`
	MaxResults        int                     `json:"max_results" validate:"gte=0,lte=100"`
	Offset            int                     `json:"offset" validate:"gte=0"`
	Filters           knowledge.SearchFilters `json:"filters"`
	EnableRerank      bool                    `json:"enable_rerank"`
}

// SearchService 按权限解析检索范围并调用混合检索引擎
type SearchService struct {
	store     repository.Store
	engine    *knowledge.HybridSearchEngine
	kbService *KnowledgeBaseService
	redis     *redis.Client
	metrics   *metrics.Metrics
	cacheCfg  config.SearchCacheConfig
}

// NewSearchService 创建检索服务
func NewSearchService(store repository.Store, engine *knowledge.HybridSearchEngine, kbService *KnowledgeBaseService, rdb *redis.Client, m *metrics.Metrics, cacheCfg config.SearchCacheConfig) *SearchService {
	return &SearchService{
		store:     store,
		engine:    engine,
		kbService: kbService,
		redis:     rdb,
		metrics:   m,
		cacheCfg:  cacheCfg,
	}
}

// Search 执行检索。范围为空是成功的空结果而非错误
func (s *SearchService) Search(ctx context.Context, userID uint, input SearchInput) (*knowledge.SearchResponse, error) {
	started := time.Now()
	mode := input.Mode
	if mode == "" {
		mode = knowledge.SearchModeHybrid
	}

	if err := validateStruct(input); err != nil {
		s.metrics.ObserveSearch(mode, "invalid", time.Since(started), 0)
		return nil, err
	}

	req := knowledge.SearchRequest{
		Query:             input.Query,
		Mode:              mode,
		Threshold:         input.Threshold,
		MinRelevanceScore: input.MinRelevanceScore,
		MaxResults:        input.MaxResults,
		Offset:            input.Offset,
		Filters:           input.Filters,
		EnableRerank:      input.EnableRerank,
	}

	if input.KnowledgeBaseID != 0 {
		kb, err := s.kbService.GetKnowledgeBase(ctx, input.KnowledgeBaseID, userID)
		if err != nil {
			s.metrics.ObserveSearch(mode, "denied", time.Since(started), 0)
			return nil, err
		}
		req.Scopes = []knowledge.SearchScope{{
			KnowledgeBaseID: kb.KnowledgeBaseID,
			Threshold:       kb.SearchThreshold,
		}}
		req.ExplicitScope = true
	} else {
		ids, thresholds, err := s.kbService.ListReadableIDs(ctx, userID)
		if err != nil {
			return nil, err
		}
		for i, id := range ids {
			req.Scopes = append(req.Scopes, knowledge.SearchScope{
				KnowledgeBaseID: id,
				Threshold:       thresholds[i],
			})
		}
	}

	// Redis外层缓存跨进程复用同一指纹的响应
	if cached := s.cacheGet(ctx, &req); cached != nil {
		s.metrics.ObserveCache(true)
		s.metrics.ObserveSearch(mode, "ok", time.Since(started), len(cached.Results))
		return cached, nil
	}
	s.metrics.ObserveCache(false)

	resp, err := s.engine.Search(ctx, req)
	if err != nil {
		s.metrics.ObserveSearch(mode, "error", time.Since(started), 0)
		return nil, s.wrapEngineErr(err)
	}

	s.cachePut(ctx, &req, resp)
	s.logSearch(ctx, userID, input.KnowledgeBaseID, input.Query, len(resp.Results))
	s.metrics.ObserveSearch(mode, "ok", time.Since(started), len(resp.Results))
	return resp, nil
}

func (s *SearchService) wrapEngineErr(err error) error {
	if errors.IsAppError(err) {
		return err
	}
	return errors.NewExternalError(errors.ErrCodeExternalService, "search failed").WithCause(err)
}

func (s *SearchService) cacheGet(ctx context.Context, req *knowledge.SearchRequest) *knowledge.SearchResponse {
	if s.redis == nil || !s.cacheCfg.RedisEnabled {
		return nil
	}
	raw, err := s.redis.Get(ctx, s.cacheKey(req)).Bytes()
	if err != nil {
		return nil
	}
	var resp knowledge.SearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil
	}
	resp.FromCache = true
	return &resp
}

func (s *SearchService) cachePut(ctx context.Context, req *knowledge.SearchRequest, resp *knowledge.SearchResponse) {
	if s.redis == nil || !s.cacheCfg.RedisEnabled {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	ttl := time.Duration(s.cacheCfg.RedisTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if err := s.redis.Set(ctx, s.cacheKey(req), raw, ttl).Err(); err != nil {
		logger.Debug("检索结果写入Redis缓存失败", zap.Error(err))
	}
}

func (s *SearchService) cacheKey(req *knowledge.SearchRequest) string {
	return fmt.Sprintf("knowledge:search:%s", req.Fingerprint())
}

func (s *SearchService) logSearch(ctx context.Context, userID, kbID uint, query string, resultCount int) {
	record := &models.KnowledgeSearch{
		KnowledgeBaseID: kbID,
		UserID:          userID,
		Query:           query,
		ResultCount:     resultCount,
		CreateTime:      time.Now(),
	}
	if err := s.store.SearchLogs().Create(ctx, record); err != nil {
		logger.Debug("搜索记录写入失败", zap.Error(err))
	}
}

// ClearCaches 清空引擎内缓存，调度器周期调用
func (s *SearchService) ClearCaches() {
	if s.engine != nil && s.engine.Cache() != nil {
		s.engine.Cache().Clear()
	}
}
