package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/logger"
	"github.com/aihub/knowledge-go/internal/models"
	"github.com/aihub/knowledge-go/internal/repository"
)

// Scheduler 周期任务：自动增量重建扫描与检索缓存清理
type Scheduler struct {
	store    repository.Store
	indexing *IndexingService
	search   *SearchService
	cfg      config.KnowledgeConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewScheduler 创建调度器
func NewScheduler(store repository.Store, indexing *IndexingService, search *SearchService, cfg config.KnowledgeConfig) *Scheduler {
	return &Scheduler{
		store:    store,
		indexing: indexing,
		search:   search,
		cfg:      cfg,
	}
}

// Start 启动后台循环，重复调用无效果
func (s *Scheduler) Start() {
	s.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel

		s.wg.Add(2)
		go s.reindexLoop(ctx)
		go s.cacheClearLoop(ctx)

		logger.Info("调度器启动",
			zap.Duration("reindex_interval", s.reindexInterval()),
			zap.Duration("cache_clear_interval", s.cacheClearInterval()))
	})
}

// Stop 停止全部循环并等待退出
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) reindexLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.reindexInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAutoReindex(ctx)
		}
	}
}

// sweepAutoReindex 为标记了自动重建的知识库创建增量重建任务
func (s *Scheduler) sweepAutoReindex(ctx context.Context) {
	kbs, err := s.store.KnowledgeBases().ListAutoReindex(ctx)
	if err != nil {
		logger.Warn("自动重建扫描失败", zap.Error(err))
		return
	}

	for _, kb := range kbs {
		if ctx.Err() != nil {
			return
		}
		job, err := s.indexing.ReindexKnowledgeBase(ctx, kb.KnowledgeBaseID, 0, models.JobKindIncremental)
		if err != nil {
			logger.Warn("创建自动重建任务失败",
				zap.Uint("knowledge_base_id", kb.KnowledgeBaseID),
				zap.Error(err))
			continue
		}
		logger.Info("自动重建任务已创建",
			zap.Uint("knowledge_base_id", kb.KnowledgeBaseID),
			zap.Uint("job_id", job.JobID))
	}
}

func (s *Scheduler) cacheClearLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cacheClearInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.search.ClearCaches()
			logger.Debug("检索缓存已清空")
		}
	}
}

func (s *Scheduler) reindexInterval() time.Duration {
	if s.cfg.Scheduler.ReindexIntervalS > 0 {
		return time.Duration(s.cfg.Scheduler.ReindexIntervalS) * time.Second
	}
	return time.Hour
}

func (s *Scheduler) cacheClearInterval() time.Duration {
	if s.cfg.Cache.ClearIntervalS > 0 {
		return time.Duration(s.cfg.Cache.ClearIntervalS) * time.Second
	}
	return 30 * time.Minute
}
